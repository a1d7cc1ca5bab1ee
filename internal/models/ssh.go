package models

// Credentials identify the hypervisor and the account used to reach it.
type Credentials struct {
	Host     string
	User     string
	Password string
}

// CommandResult holds the result of a single remote command.
type CommandResult struct {
	Command   string
	Output    string // stdout, trimmed
	Stderr    string
	Connected bool // SSH handshake completed
	Error     error
}

// Ok reports whether the command ran and exited zero.
func (r *CommandResult) Ok() bool {
	return r != nil && r.Error == nil
}
