//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with the headless backend and the sample configuration.
func (Run) Testbed() error {
	fmt.Println("Run testbed...")
	_, err := executeCmd("go", withArgs("run", ".", "--config", "testbed/anima.toml"), withStream())
	return err
}

// Runs the testbed on the Vulkan backend for a fixed number of frames.
func (Run) Vulkan() error {
	_, err := executeCmd("go", withArgs("run", ".", "--config", "testbed/anima.toml", "--backend", "vulkan", "--frames", "600"), withStream())
	return err
}
