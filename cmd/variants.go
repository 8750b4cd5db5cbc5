package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/canids/internal/config"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List observation variants",
	Long: `Display the built-in observation variants and those loaded from
--variants-file: label maps, diagnostic thresholds and suggested feature sets.`,
	Example: `  canids variants
  canids variants --variants-file my_variants.toml`,
	Aliases: []string{"observations"},
	GroupID: "info",
	Args:    cobra.NoArgs,
	RunE:    runVariants,
}

// runVariants lists available variants
func runVariants(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	presets, err := config.LoadVariants(cfg.VariantsFile)
	if err != nil {
		return err
	}

	active := strings.ToLower(cfg.Variant)
	if active == "" {
		active = config.DefaultVariant
	}

	fmt.Println("Available variants:")
	fmt.Println(strings.Repeat("-", 60))
	for _, name := range config.VariantNames(presets) {
		p := presets[name]
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, name)
		if p.Description != "" {
			fmt.Printf("   Description: %s\n", p.Description)
		}
		codes := make([]string, 0, p.Variant.Labels.Len())
		for i, l := range p.Variant.Labels.Names() {
			codes = append(codes, fmt.Sprintf("%d=%s", i, l))
		}
		fmt.Printf("   Labels:      %s\n", strings.Join(codes, " "))
		fmt.Printf("   Threshold:   0x%X\n", p.Variant.Threshold)
		if p.FeatureSet != "" {
			fmt.Printf("   Features:    %s\n", p.FeatureSet)
		}
		fmt.Println()
	}
	return nil
}
