package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var (
	dataDir    = flag.String("data-dir", "./medlock-data", "Medlock data directory")
	backupPath = flag.String("backup", "", "Path to back up the audit log before reset (default: <data-dir>/audit.log.backup)")
	keepSRS    = flag.Bool("keep-srs", false, "Preserve the service keypair so pinned public keys stay valid")
	yes        = flag.Bool("yes", false, "Skip the confirmation prompt")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Medlock Data Reset Tool")
	log.Println("=======================")

	if _, err := os.Stat(*dataDir); os.IsNotExist(err) {
		log.Fatalf("Data directory not found at %s", *dataDir)
	}

	log.Printf("Data directory: %s", *dataDir)
	log.Printf("Keep service keypair: %v", *keepSRS)

	if !*yes {
		fmt.Print("\nThis deletes every record, key and account. Type 'yes' to continue: ")
		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("Failed to read confirmation: %v", err)
		}
		if strings.TrimSpace(answer) != "yes" {
			log.Println("Aborted. No changes made.")
			return
		}
	}

	auditLog := filepath.Join(*dataDir, "audit.log")

	// Back up the audit trail before anything is destroyed. The trail
	// is the only record of what happened up to this point.
	log.Println("[1/5] Backing up audit log...")
	if _, err := os.Stat(auditLog); os.IsNotExist(err) {
		log.Println("✓ No audit log found, nothing to back up")
	} else {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = auditLog + ".backup"
		}
		if err := copyFile(auditLog, backupFile); err != nil {
			log.Fatalf("Failed to back up audit log: %v", err)
		}
		log.Printf("✓ Audit log backed up to %s", backupFile)
	}

	log.Println("[2/5] Removing encrypted blobs and metadata...")
	for _, dir := range []string{
		filepath.Join(*dataDir, "cloud", "data"),
		filepath.Join(*dataDir, "cloud", "meta"),
	} {
		if err := os.RemoveAll(dir); err != nil {
			log.Fatalf("Failed to remove %s: %v", dir, err)
		}
	}
	log.Println("✓ Blobs and metadata removed")

	log.Println("[3/5] Removing key material...")
	if err := os.RemoveAll(filepath.Join(*dataDir, "cloud", "keys", "users")); err != nil {
		log.Fatalf("Failed to remove user keys: %v", err)
	}
	if *keepSRS {
		log.Println("✓ User keys removed, service keypair preserved")
	} else {
		if err := os.RemoveAll(filepath.Join(*dataDir, "cloud", "keys", "srs")); err != nil {
			log.Fatalf("Failed to remove service keypair: %v", err)
		}
		log.Println("✓ User keys and service keypair removed")
	}

	log.Println("[4/5] Removing identity, session and audit stores...")
	// The identity store runs in WAL mode, so its sidecar files must
	// go with it; a stale -wal next to a fresh database corrupts it.
	for _, file := range []string{
		filepath.Join(*dataDir, "medlock.db"),
		filepath.Join(*dataDir, "medlock.db-wal"),
		filepath.Join(*dataDir, "medlock.db-shm"),
		filepath.Join(*dataDir, "sessions.db"),
		auditLog,
	} {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.Fatalf("Failed to remove %s: %v", file, err)
		}
	}
	log.Println("✓ Stores removed")

	log.Println("[5/5] Recreating empty data tree...")
	for _, dir := range []string{
		filepath.Join(*dataDir, "cloud", "data"),
		filepath.Join(*dataDir, "cloud", "meta"),
		filepath.Join(*dataDir, "cloud", "keys", "srs"),
		filepath.Join(*dataDir, "cloud", "keys", "users"),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	log.Println("✓ Empty data tree created")

	log.Println("\n✓ Reset completed successfully!")
	log.Println("The next 'medlock serve' starts from a clean state.")
	if !*keepSRS {
		log.Println("A new service keypair will be generated on first start.")
	}
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
