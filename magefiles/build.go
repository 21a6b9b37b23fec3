//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Runs every test with the race detector.
func (Build) Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}

// Runs go vet over the module.
func (Build) Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}

// Builds the testbed binary into bin/.
func (Build) Testbed() error {
	mg.Deps(Build.Vet)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/anima-rdg", "."), withStream())
	return err
}
