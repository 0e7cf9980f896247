package publish

// UpdateTreeCommand is the host command run after a buffer's tree changes.
const UpdateTreeCommand = "sapling_update_tree"

// CommandRunner is the host primitive for running a named command with
// key/value arguments.
type CommandRunner interface {
	RunCommand(name string, args map[string]any)
}

// CommandRunnerFunc adapts a function to CommandRunner.
type CommandRunnerFunc func(name string, args map[string]any)

// RunCommand calls f.
func (f CommandRunnerFunc) RunCommand(name string, args map[string]any) {
	f(name, args)
}

// CommandSubscriber forwards each notification to runner as the named
// command with buffer_id and scope arguments. An empty name uses
// UpdateTreeCommand.
func CommandSubscriber(runner CommandRunner, name string) Subscriber {
	if name == "" {
		name = UpdateTreeCommand
	}
	return func(n Notification) {
		runner.RunCommand(name, map[string]any{
			"buffer_id": n.BufferID,
			"scope":     n.Scope,
		})
	}
}
