package bindmount

// Config describes a single bind mount request.
type Config struct {
	Source   string
	Target   string
	ReadOnly bool
}
