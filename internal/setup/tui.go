// Package setup provides the interactive terminal wizard that writes a
// YAML configuration file.
package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

type wizardConfig struct {
	TokenID       string `yaml:"token_id,omitempty"`
	MirrorBaseURL string `yaml:"mirror_base_url"`
	OutputDir     string `yaml:"output_dir"`
	ListenAddr    string `yaml:"listen_addr"`
}

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		tokenID    string
		network    string
		outputDir  string
		listenAddr string
		confirm    bool
	)

	// defaults
	outputDir = "token_data"
	listenAddr = ":3001"

	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("TOKENTRACE CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point the analyzer at a token and go.\n"))

	fmt.Println(stepStyle.Render("STEP 1: NETWORK"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select mirror node network").
				Options(
					huh.NewOption("Mainnet", "https://mainnet-public.mirrornode.hedera.com/api/v1"),
					huh.NewOption("Testnet", "https://testnet.mirrornode.hedera.com/api/v1"),
				).
				Value(&network),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TOKENTRACE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: TOKEN"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Token ID").
				Description("Shard.realm.num form, e.g. 0.0.123456. Leave empty for server-only mode.").
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					if strings.Count(s, ".") != 2 {
						return fmt.Errorf("expected shard.realm.num, e.g. 0.0.123456")
					}
					return nil
				}).
				Value(&tokenID),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TOKENTRACE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: OUTPUT"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Artifact directory").
				Value(&outputDir),
			huh.NewInput().
				Title("HTTP listen address").
				Value(&listenAddr),
		),
	).Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TOKENTRACE CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: CONFIRM"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write config.yaml?").
				Affirmative("Write it").
				Negative("Cancel").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled")
	}

	payload, err := yaml.Marshal(wizardConfig{
		TokenID:       tokenID,
		MirrorBaseURL: network,
		OutputDir:     outputDir,
		ListenAddr:    listenAddr,
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile("config.yaml", payload, 0o644); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render("\nconfig.yaml written. Start with: tokentrace --config config.yaml"))
	return nil
}
