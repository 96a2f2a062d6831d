//go:build ignore

// Build compiles the robot binaries into bin/:
//
//	bin/biped            motion core that runs on the robot
//	bin/biped-simulator  the same stack against the simulated motor board
//
// Usage:
//
//	go run build.go [-o dir] [-arch arm64] [biped|simulator ...]
//
// With -arch the binaries are cross-compiled for the robot's Linux board.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

type target struct {
	pkg    string
	output string
}

var targets = map[string]target{
	"biped":     {"./cmd/biped", "biped"},
	"simulator": {"./cmd/simulator", "biped-simulator"},
}

func main() {
	outputDir := flag.String("o", "bin", "Output directory")
	arch := flag.String("arch", "", "Cross-compile for linux/<arch>, e.g. arm64")
	flag.Parse()

	names := flag.Args()
	if len(names) == 0 {
		names = []string{"biped", "simulator"}
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	env := os.Environ()
	if *arch != "" {
		env = append(env, "GOOS=linux", "GOARCH="+*arch)
	}

	for _, name := range names {
		t, ok := targets[name]
		if !ok {
			fmt.Printf("Unknown target %q\n", name)
			os.Exit(2)
		}
		outputPath := filepath.Join(*outputDir, t.output)
		fmt.Printf("Building %s -> %s\n", t.pkg, outputPath)

		cmd := exec.Command("go", "build", "-o", outputPath, t.pkg)
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			fmt.Printf("Error building %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Println("Build complete")
}
