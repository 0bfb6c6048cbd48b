package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/tutorbook"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("tutorbook-config - Configuration tool for the tutorbook policy engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  tutorbook-config convert <input> <output>  - Convert between formats")
	fmt.Println("  tutorbook-config validate <file>           - Validate configuration")
	fmt.Println("  tutorbook-config stats <file>              - Show configuration statistics")
	fmt.Println("  tutorbook-config apply <file>              - Apply configuration to a fresh engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: tutorbook-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tutorbook-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:    %d\n", cfg.Version)
	fmt.Printf("  Identities: %d\n", len(cfg.Identities))
	fmt.Printf("  Trusted:    %d\n", len(cfg.Trusted))
	fmt.Printf("  Locations:  %d\n", len(cfg.Locations))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tutorbook-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	supervisors := 0
	parents := 0
	for _, id := range cfg.Identities {
		if id.Supervisor {
			supervisors++
		}
		if id.Parent {
			parents++
		}
	}
	fmt.Println("Identities:")
	fmt.Printf("  Total:       %d\n", len(cfg.Identities))
	fmt.Printf("  Supervisors: %d\n", supervisors)
	fmt.Printf("  Parents:     %d\n", parents)
	fmt.Printf("  Trusted:     %d\n", len(cfg.Trusted))
	fmt.Println()

	if len(cfg.Locations) > 0 {
		fmt.Println("Seed Locations:")
		for _, loc := range cfg.Locations {
			fmt.Printf("  %s (%d supervisors)\n", loc.ID, len(loc.Doc.Supervisors))
		}
		fmt.Println()
	}

	if len(cfg.Routing.User) > 0 || len(cfg.Routing.Location) > 0 {
		fmt.Println("Routing Overrides:")
		fmt.Printf("  User collections:     %d\n", len(cfg.Routing.User))
		fmt.Printf("  Location collections: %d\n", len(cfg.Routing.Location))
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Read cache TTL:        %dms\n", cfg.Engine.ReadCacheTTL)
	fmt.Printf("  Ristretto counters:    %d\n", cfg.Engine.RistrettoNumCounter)
	fmt.Printf("  Ristretto max cost:    %d\n", cfg.Engine.RistrettoMaxCost)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tutorbook-config apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine := tutorbook.NewEngine(
		tutorbook.NewMemoryDocStore(),
		tutorbook.NewStaticResolver(),
		tutorbook.NewMemoryAuditStore(),
	)

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Identities loaded: %d\n", len(cfg.Identities))
	fmt.Printf("  Locations seeded:  %d\n", len(cfg.Locations))
}

func loadConfig(filename string) (*tutorbook.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := tutorbook.NewConfigLoader()
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *tutorbook.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
