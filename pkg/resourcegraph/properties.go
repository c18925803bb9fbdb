package resourcegraph

// Properties payloads of the five resource kinds, in the platform's JSON shape.

type StorageAccountProperties struct {
	AccountType string `json:"accountType"`
}

type VirtualNetworkProperties struct {
	AddressSpace AddressSpace `json:"addressSpace"`
	Subnets      []Subnet     `json:"subnets"`
}

type AddressSpace struct {
	AddressPrefixes []string `json:"addressPrefixes"`
}

type Subnet struct {
	Name       string           `json:"name"`
	Properties SubnetProperties `json:"properties"`
}

type SubnetProperties struct {
	AddressPrefix string `json:"addressPrefix"`
}

type PublicIPAddressProperties struct {
	PublicIPAllocationMethod string       `json:"publicIPAllocationMethod"`
	DNSSettings              *DNSSettings `json:"dnsSettings,omitempty"`
}

type DNSSettings struct {
	DomainNameLabel string `json:"domainNameLabel"`
}

type NetworkInterfaceProperties struct {
	IPConfigurations []IPConfiguration `json:"ipConfigurations"`
}

type IPConfiguration struct {
	Name       string                    `json:"name"`
	Properties IPConfigurationProperties `json:"properties"`
}

type IPConfigurationProperties struct {
	PrivateIPAllocationMethod string      `json:"privateIPAllocationMethod"`
	PublicIPAddress           IDReference `json:"publicIPAddress"`
	Subnet                    IDReference `json:"subnet"`
}

type IDReference struct {
	ID string `json:"id"`
}

type VirtualMachineProperties struct {
	HardwareProfile    HardwareProfile    `json:"hardwareProfile"`
	OSProfile          OSProfile          `json:"osProfile"`
	StorageProfile     StorageProfile     `json:"storageProfile"`
	NetworkProfile     NetworkProfile     `json:"networkProfile"`
	DiagnosticsProfile DiagnosticsProfile `json:"diagnosticsProfile"`
}

type HardwareProfile struct {
	VMSize string `json:"vmSize"`
}

type OSProfile struct {
	ComputerName       string              `json:"computerName"`
	AdminUsername      string              `json:"adminUsername"`
	AdminPassword      string              `json:"adminPassword,omitempty"`
	LinuxConfiguration *LinuxConfiguration `json:"linuxConfiguration,omitempty"`
}

type LinuxConfiguration struct {
	DisablePasswordAuthentication string   `json:"disablePasswordAuthentication"`
	SSH                           SSHConfig `json:"ssh"`
}

type SSHConfig struct {
	PublicKeys []SSHPublicKey `json:"publicKeys"`
}

type SSHPublicKey struct {
	Path    string `json:"path"`
	KeyData string `json:"keyData"`
}

type StorageProfile struct {
	ImageReference *ImageReference `json:"imageReference,omitempty"`
	OSDisk         OSDisk          `json:"osDisk"`
	DataDisks      []DataDisk      `json:"dataDisks,omitempty"`
}

type ImageReference struct {
	Publisher string `json:"publisher"`
	Offer     string `json:"offer"`
	SKU       string `json:"sku"`
	Version   string `json:"version"`
}

type OSDisk struct {
	Name         string `json:"name"`
	OSType       string `json:"osType,omitempty"`
	VHD          VHD    `json:"vhd"`
	Image        *VHD   `json:"image,omitempty"`
	Caching      string `json:"caching"`
	CreateOption string `json:"createOption"`
}

type DataDisk struct {
	Name         string `json:"name"`
	DiskSizeGB   string `json:"diskSizeGB"`
	Lun          int    `json:"lun"`
	VHD          VHD    `json:"vhd"`
	CreateOption string `json:"createOption"`
}

type VHD struct {
	URI string `json:"uri"`
}

type NetworkProfile struct {
	NetworkInterfaces []IDReference `json:"networkInterfaces"`
}

type DiagnosticsProfile struct {
	BootDiagnostics BootDiagnostics `json:"bootDiagnostics"`
}

type BootDiagnostics struct {
	Enabled    bool   `json:"enabled"`
	StorageURI string `json:"storageUri"`
}
