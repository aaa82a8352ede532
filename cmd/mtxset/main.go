// The main package for the mtxset executable.
package main

import "github.com/JakeFAU/suitesparse-dataset/cmd"

func main() {
	cmd.Execute()
}
