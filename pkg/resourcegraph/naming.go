package resourcegraph

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Fixed address space shared by every node in a group.
const (
	VirtualNetworkAddressPrefix = "10.0.0.0/16"
	SubnetAddressPrefix         = "10.0.0.0/24"
)

const (
	maxStorageStem = 17
	storageHashLen = 6
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

// StorageAccountName derives the per-node storage account name. Storage account
// names are limited to 24 lowercase alphanumerics. A longer stem is cut and
// suffixed with a hash of the full node name so nodes sharing a long prefix
// keep distinct accounts.
func StorageAccountName(node string) string {
	stem := strings.ToLower(nonAlphanumeric.ReplaceAllString(node, ""))
	if len(stem) > maxStorageStem {
		sum := sha256.Sum256([]byte(node))
		stem = stem[:maxStorageStem-storageHashLen] + hex.EncodeToString(sum[:])[:storageHashLen]
	}
	return stem + "storage"
}

func VirtualNetworkName(group string) string { return group + "virtualnetwork" }
func SubnetName(group string) string         { return group + "subnet" }
func PublicIPName(node string) string        { return node + "publicip" }
func NICName(node string) string             { return node + "nic" }
func IPConfigurationName(node string) string { return node + "ipconfig" }
func ContainerName(node string) string       { return node + "vhds" }
func OSDiskName(node string) string          { return node + "osdisk" }
func DataDiskName(node string) string        { return node + "datadisk" }
func ComputerName(node string) string        { return node + "pc" }
