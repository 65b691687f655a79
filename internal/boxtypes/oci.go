package boxtypes

// OciConfig is the subset of an OCI image config this runtime cares
// about: what to run, with what environment, and which ports the image
// itself declares.
type OciConfig struct {
	Entrypoint   []string
	Cmd          []string
	Env          map[string]string
	WorkingDir   string
	ExposedPorts []PortMapping
}

// MergeEnv overlays user-supplied environment variables on top of the
// image's declared environment, user wins on collision.
func (c *OciConfig) MergeEnv(user map[string]string) {
	if len(user) == 0 {
		return
	}
	if c.Env == nil {
		c.Env = make(map[string]string, len(user))
	}
	for k, v := range user {
		c.Env[k] = v
	}
}

// BoxCommand describes a command to run inside a box's container.
type BoxCommand struct {
	Prog string
	Args []string
	Env  map[string]string
	Cwd  string
	TTY  bool
}
