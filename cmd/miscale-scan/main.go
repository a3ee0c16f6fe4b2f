// Command miscale-scan lists every advertising BLE peripheral and marks the
// configured scale. Use it to find the scale's address.
//
// Usage:
//
//	miscale-scan [--config path] [--timeout 10s]
package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/chaz8081/miscale-bridge/internal/ble"
	"github.com/chaz8081/miscale-bridge/internal/config"
)

var scaleNameHints = []string{"MI", "SCALE", "MIBCS"}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (default: ~/.config/miscale-bridge/config.yaml)")
	timeout := pflag.DurationP("timeout", "t", 10*time.Second, "how long to scan")
	pflag.Parse()

	cfg, _, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	fmt.Println("=== miscale-scan ===")
	fmt.Printf("  Looking for: %s\n", cfg.Scale.Address)
	fmt.Printf("  Scanning:    %s\n", *timeout)
	fmt.Println("====================")

	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan failed: %v\n\nCheck that Bluetooth is on and this process is allowed to use it.\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No BLE devices found. This might indicate:")
		fmt.Println("  1. Bluetooth is not enabled")
		fmt.Println("  2. The process lacks Bluetooth permission")
		fmt.Println("  3. Bluetooth adapter issues")
		return
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].RSSI > devices[j].RSSI })

	fmt.Printf("Found %d BLE device(s):\n", len(devices))
	for i, d := range devices {
		fmt.Printf("  %d. Name: %q | Address: %s | RSSI: %d%s\n", i+1, d.Name, d.Address, d.RSSI, marker(d, cfg.Scale.Address))
	}
}

// marker annotates a device that is, or may be, the scale.
func marker(d ble.Device, address string) string {
	if address != "" && strings.EqualFold(d.Address, address) {
		return " <<< configured scale"
	}
	name := strings.ToUpper(d.Name)
	for _, hint := range scaleNameHints {
		if name != "" && strings.Contains(name, hint) {
			return " <<< possible scale"
		}
	}
	return ""
}
