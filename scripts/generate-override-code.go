// Package main is a development utility for generating an override code with its
// bcrypt hash pre-computed. It prints the raw code and the hash so operators can
// put the hash in configuration (protection.override_code_hash) and hand the raw
// code to whoever is authorized to act on protected resources. The plaintext
// never needs to appear in a config file or environment variable.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Generate random bytes
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		log.Fatal(err)
	}

	// Encode to base64
	code := "ovr_" + base64.RawURLEncoding.EncodeToString(randomBytes)

	// Hash with bcrypt
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(code), 10)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Override Code Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nOverride Code: %s\n", code)
	fmt.Printf("\nBcrypt Hash: %s\n", string(hashBytes))
	fmt.Println("\n==========================================================")
	fmt.Println("Configuration:")
	fmt.Println("==========================================================")
	fmt.Printf(`
protection:
  override_code_hash: "%s"

or via environment:

  CGR_PROTECTION_OVERRIDE_CODE_HASH='%s'
`, string(hashBytes), string(hashBytes))
	fmt.Println("==========================================================")
}
