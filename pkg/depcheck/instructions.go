package depcheck

import (
	"strings"
)

// GetInstallationInstructions turns missing items into copy-pasteable
// remediation text. Package commands are grouped by installer in order of first
// appearance; packages without an install hint fall back to "go get <module>".
// Environment variables follow as export lines. Empty input yields "".
func GetInstallationInstructions(missing []MissingItem) string {
	if len(missing) == 0 {
		return ""
	}

	var (
		installers []string
		commands   = map[string][]string{}
		seen       = map[string]bool{}
		envs       []MissingItem
		seenEnv    = map[string]bool{}
	)

	for _, item := range missing {
		switch item.Kind {
		case KindEnv:
			if !seenEnv[item.Name] {
				seenEnv[item.Name] = true
				envs = append(envs, item)
			}
		default:
			cmd := strings.TrimSpace(item.Install)
			if cmd == "" {
				cmd = "go get " + item.Name
			}
			if seen[cmd] {
				continue
			}
			seen[cmd] = true
			installer := strings.Fields(cmd)[0]
			if _, ok := commands[installer]; !ok {
				installers = append(installers, installer)
			}
			commands[installer] = append(commands[installer], cmd)
		}
	}

	var b strings.Builder
	if len(installers) > 0 {
		b.WriteString("# Install missing packages\n")
		for _, installer := range installers {
			for _, cmd := range commands[installer] {
				b.WriteString(cmd)
				b.WriteByte('\n')
			}
		}
	}
	if len(envs) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("# Set missing environment variables\n")
		for _, item := range envs {
			b.WriteString("export ")
			b.WriteString(item.Name)
			b.WriteString("=<value>")
			if item.Service != "" {
				b.WriteString("  # ")
				b.WriteString(item.Service)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
