// Package main generates the secrets a ChronoBill installation needs for
// credential encryption at rest. By default it prints an ENCRYPTION_KEY: the
// credential cipher requires exactly 32 key bytes, so 24 random bytes are
// encoded as 32 base64url characters. With -passphrase-salt it instead prints
// a PBKDF2 salt for deployments that derive the key from a passphrase.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"

	"github.com/chronobill/chronobill/internal/crypto"
)

func main() {
	saltMode := flag.Bool("passphrase-salt", false,
		"print a PBKDF2 salt for ENCRYPTION_PASSPHRASE deployments instead of a raw key")
	flag.Parse()

	if *saltMode {
		printSalt()
		return
	}
	printKey()
}

func printKey() {
	// 24 random bytes encode to exactly the 32 characters the credential
	// cipher accepts as a key.
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		log.Fatal(err)
	}
	key := base64.RawURLEncoding.EncodeToString(raw)

	// Sanity-check against the real cipher before handing it out.
	if _, err := crypto.NewTokenCipher([]byte(key)); err != nil {
		log.Fatalf("generated key rejected by the credential cipher: %v", err)
	}

	fmt.Println("Credential encryption key. Keep it in your secret store: losing it")
	fmt.Println("makes stored provider tokens unrecoverable and the accounting")
	fmt.Println("integration must be reconnected.")
	fmt.Printf("\n  export ENCRYPTION_KEY=%s\n\n", key)
	fmt.Println("Rotating the key invalidates every stored provider token.")
}

func printSalt() {
	salt, err := crypto.GenerateSalt(16)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("PBKDF2 salt for passphrase-derived credential encryption. Pair it")
	fmt.Println("with ENCRYPTION_PASSPHRASE; both must stay stable per installation.")
	fmt.Printf("\n  export ENCRYPTION_SALT=%s\n", base64.RawURLEncoding.EncodeToString(salt))
}
