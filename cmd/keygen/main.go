package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/reviewd/backend/pkg/utils/keygen"
)

func main() {
	out := flag.String("out", "", "write REVIEWD_SECURITY_ENCRYPTION_KEY=<key> to this env file instead of stdout")
	size := flag.Int("size", 32, "key size in bytes")
	flag.Parse()

	key, err := keygen.GenerateEncryptionKey(*size)
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}

	if *out == "" {
		fmt.Println(key)
		return
	}

	if _, err := os.Stat(*out); err == nil {
		fmt.Printf("✓ %s already exists (skipped)\n", *out)
		return
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o700); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}
	line := fmt.Sprintf("REVIEWD_SECURITY_ENCRYPTION_KEY=%s\n", key)
	if err := os.WriteFile(*out, []byte(line), 0o600); err != nil {
		log.Fatalf("Failed to write key file: %v", err)
	}
	fmt.Printf("✓ Encryption key written to %s\n", *out)
}
