package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerPulseStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	bannerDimStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	bannerTitleStyle   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	bannerTaglineStyle = lipgloss.NewStyle().Foreground(colorPrimaryDark).Italic(true)
)

func renderBanner() string {
	line := bannerDimStyle.Render("───")
	pulse := bannerPulseStyle.Render("╱╲╱")
	title := bannerTitleStyle.Render("HEALTHSYNC")

	return strings.Join([]string{
		"  " + line + pulse + line + " " + title,
		bannerTaglineStyle.Render("  one record from many sources"),
	}, "\n")
}
