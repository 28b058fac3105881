// callisto-license administers the license database: issuing keys, listing
// details, and managing the activation lifecycle. It operates on the database
// directly and never needs a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"callisto/internal/config"
	"callisto/internal/license"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: callisto-license <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  create <tier> <email> <days>   Issue a new key (tier: free|pro|premium|enterprise)\n")
	fmt.Fprintf(os.Stderr, "  info <key>                     Show a license with its activations\n")
	fmt.Fprintf(os.Stderr, "  validate <key>                 Validate a key against this machine\n")
	fmt.Fprintf(os.Stderr, "  activate <key>                 Activate a key on this machine\n")
	fmt.Fprintf(os.Stderr, "  deactivate <key>               Disable a key\n")
	fmt.Fprintf(os.Stderr, "  extend <key> <days>            Push the expiry out by N days\n")
	fmt.Fprintf(os.Stderr, "  upgrade <key> <tier>           Move a key to a higher tier\n")
	fmt.Fprintf(os.Stderr, "  hwid                           Print this machine's hardware id\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if os.Args[1] == "hwid" {
		fmt.Println(license.HardwareID())
		return
	}

	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	mgr, err := license.Open(cfg.Storage.LicenseDBPath, cfg.License.Secret)
	if err != nil {
		log.Fatalf("failed to open license store: %v", err)
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "create":
		if len(args) != 3 {
			log.Fatal("usage: callisto-license create <tier> <email> <days>")
		}
		days, err := strconv.Atoi(args[2])
		if err != nil {
			log.Fatalf("invalid days %q: %v", args[2], err)
		}
		lic, err := mgr.Create(ctx, license.CreateParams{
			Tier:         license.Tier(args[0]),
			Email:        args[1],
			DurationDays: days,
		})
		if err != nil {
			log.Fatalf("create failed: %v", err)
		}
		fmt.Printf("created %s license for %s\n", lic.Tier, lic.Email)
		fmt.Printf("key:     %s\n", lic.Key)
		fmt.Printf("expires: %s\n", lic.ExpiresAt.Format("2006-01-02"))

	case "info":
		if len(args) != 1 {
			log.Fatal("usage: callisto-license info <key>")
		}
		info, err := mgr.GetInfo(ctx, args[0])
		if err != nil {
			log.Fatalf("info failed: %v", err)
		}
		printInfo(info)

	case "validate":
		if len(args) != 1 {
			log.Fatal("usage: callisto-license validate <key>")
		}
		tier, err := mgr.Validate(ctx, args[0], license.HardwareID())
		if err != nil {
			log.Fatalf("invalid: %v", err)
		}
		fmt.Printf("valid: %s tier\n", tier)

	case "activate":
		if len(args) != 1 {
			log.Fatal("usage: callisto-license activate <key>")
		}
		lic, err := mgr.Activate(ctx, args[0], license.HardwareID(), "")
		if err != nil {
			log.Fatalf("activate failed: %v", err)
		}
		fmt.Printf("activated %s license on this machine\n", lic.Tier)

	case "deactivate":
		if len(args) != 1 {
			log.Fatal("usage: callisto-license deactivate <key>")
		}
		if err := mgr.Deactivate(ctx, args[0]); err != nil {
			log.Fatalf("deactivate failed: %v", err)
		}
		fmt.Println("deactivated")

	case "extend":
		if len(args) != 2 {
			log.Fatal("usage: callisto-license extend <key> <days>")
		}
		days, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("invalid days %q: %v", args[1], err)
		}
		if err := mgr.Extend(ctx, args[0], days); err != nil {
			log.Fatalf("extend failed: %v", err)
		}
		fmt.Printf("extended by %d days\n", days)

	case "upgrade":
		if len(args) != 2 {
			log.Fatal("usage: callisto-license upgrade <key> <tier>")
		}
		if err := mgr.Upgrade(ctx, args[0], license.Tier(args[1])); err != nil {
			log.Fatalf("upgrade failed: %v", err)
		}
		fmt.Printf("upgraded to %s\n", args[1])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func printInfo(info *license.Info) {
	fmt.Printf("key:         %s\n", info.Key)
	fmt.Printf("tier:        %s\n", info.Tier)
	fmt.Printf("email:       %s\n", info.Email)
	fmt.Printf("active:      %v\n", info.Active)
	fmt.Printf("issued:      %s\n", info.IssuedAt.Format("2006-01-02"))
	if info.Expired {
		fmt.Printf("expires:     %s (expired)\n", info.ExpiresAt.Format("2006-01-02"))
	} else {
		fmt.Printf("expires:     %s (%d days left)\n", info.ExpiresAt.Format("2006-01-02"), info.DaysRemaining)
	}
	fmt.Printf("activations: %d/%d\n", info.ActivationCount, info.MaxActivations)
	if info.HardwareID != "" {
		fmt.Printf("hardware:    %s\n", info.HardwareID)
	}
}
