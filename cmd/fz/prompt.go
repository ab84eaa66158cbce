package main

import "github.com/charmbracelet/huh"

// confirm asks an interactive yes/no question. Declined or failed prompts
// (e.g. no TTY) count as no.
func confirm(title string) bool {
	var ok bool
	if err := huh.NewConfirm().Title(title).Value(&ok).Run(); err != nil {
		return false
	}
	return ok
}
