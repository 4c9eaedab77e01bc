// Package main is a utility for generating bcrypt hashes of user passwords.
// The server stores only bcrypt hashes — never raw passwords — so this tool is
// used when manually seeding or resetting a user record in the database
// without running the full server. The produced hash can be written directly
// into the users.password_hash column.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <password>\n", os.Args[0])
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(os.Args[1]), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(hash))
}
