package main

// parseCommand determines which subcommand to run. Bare "wtmux" defaults
// to "list".
func parseCommand(args []string) string {
	if len(args) == 0 {
		return "list"
	}
	switch args[0] {
	case "close", "last-done", "list", "notify", "sandbox", "set-window-status", "help":
		return args[0]
	case "--version", "-v":
		return "version"
	case "--help", "-h":
		return "help"
	default:
		return "help"
	}
}
