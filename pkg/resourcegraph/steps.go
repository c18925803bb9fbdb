package resourcegraph

import (
	"github.com/vyvo/compute/provisioner/pkg/armtemplate"
	"github.com/vyvo/compute/provisioner/pkg/platform"
)

const (
	apiVersion    = "2015-06-15"
	dataDiskSize  = "100"
	linuxOSType   = "Linux"
	dynamicAlloc  = "Dynamic"
	standardLRS   = "Standard_LRS"
	blobEndpoint  = ".blob.core.windows.net"
	sshKeysSuffix = "/.ssh/authorized_keys"
)

// Step appends one resource, registering the variables it and later
// resources refer to before appending.
type Step interface {
	Kind() string
	Apply(g *Graph, in Input) error
}

// DefaultSteps is the fixed provisioning pipeline.
func DefaultSteps() []Step {
	return []Step{StorageStep{}, NetworkStep{}, PublicIPStep{}, NicStep{}, VMStep{}}
}

type StorageStep struct{}

func (StorageStep) Kind() string { return platform.TypeStorageAccount }

func (StorageStep) Apply(g *Graph, in Input) error {
	account := StorageAccountName(in.Name)
	if in.Image.Custom != nil {
		account = in.Image.Custom.StorageAccount
	}
	if err := g.SetVariable("storageAccountName", account); err != nil {
		return err
	}
	return appendResource(g, in, "storageAccountName", platform.TypeStorageAccount, nil,
		StorageAccountProperties{AccountType: standardLRS}, nil)
}

type NetworkStep struct{}

func (NetworkStep) Kind() string { return platform.TypeVirtualNetwork }

func (NetworkStep) Apply(g *Graph, in Input) error {
	vars := [][2]string{
		{"virtualNetworkName", VirtualNetworkName(in.Group)},
		{"virtualNetworkReference", "[resourceId('Microsoft.Network/virtualNetworks',variables('virtualNetworkName'))]"},
		{"subnetName", SubnetName(in.Group)},
		{"subnetReference", "[concat(variables('virtualNetworkReference'),'/subnets/',variables('subnetName'))]"},
	}
	if err := setVariables(g, vars); err != nil {
		return err
	}
	props := VirtualNetworkProperties{
		AddressSpace: AddressSpace{AddressPrefixes: []string{VirtualNetworkAddressPrefix}},
		Subnets: []Subnet{{
			Name:       armtemplate.VariableRef("subnetName"),
			Properties: SubnetProperties{AddressPrefix: SubnetAddressPrefix},
		}},
	}
	return appendResource(g, in, "virtualNetworkName", platform.TypeVirtualNetwork, nil, props, nil)
}

type PublicIPStep struct{}

func (PublicIPStep) Kind() string { return platform.TypePublicIPAddress }

func (PublicIPStep) Apply(g *Graph, in Input) error {
	props := PublicIPAddressProperties{PublicIPAllocationMethod: dynamicAlloc}
	if in.Name != "" {
		if err := g.SetVariable("dnsLabelPrefix", in.Name); err != nil {
			return err
		}
		props.DNSSettings = &DNSSettings{DomainNameLabel: armtemplate.VariableRef("dnsLabelPrefix")}
	}
	vars := [][2]string{
		{"publicIPAddressName", PublicIPName(in.Name)},
		{"publicIPAddressReference", "[resourceId('Microsoft.Network/publicIPAddresses',variables('publicIPAddressName'))]"},
	}
	if err := setVariables(g, vars); err != nil {
		return err
	}
	return appendResource(g, in, "publicIPAddressName", platform.TypePublicIPAddress, nil, props, nil)
}

type NicStep struct{}

func (NicStep) Kind() string { return platform.TypeNetworkInterface }

func (NicStep) Apply(g *Graph, in Input) error {
	vars := [][2]string{
		{"ipConfigurationName", IPConfigurationName(in.Name)},
		{"networkInterfaceCardName", NICName(in.Name)},
		{"networkInterfaceCardReference", "[resourceId('Microsoft.Network/networkInterfaces',variables('networkInterfaceCardName'))]"},
	}
	if err := setVariables(g, vars); err != nil {
		return err
	}
	props := NetworkInterfaceProperties{IPConfigurations: []IPConfiguration{{
		Name: armtemplate.VariableRef("ipConfigurationName"),
		Properties: IPConfigurationProperties{
			PrivateIPAllocationMethod: dynamicAlloc,
			PublicIPAddress:           IDReference{ID: armtemplate.VariableRef("publicIPAddressReference")},
			Subnet:                    IDReference{ID: armtemplate.VariableRef("subnetReference")},
		},
	}}}
	dependsOn := []string{
		"[concat('Microsoft.Network/publicIPAddresses/', variables('publicIPAddressName'))]",
		"[concat('Microsoft.Network/virtualNetworks/', variables('virtualNetworkName'))]",
	}
	return appendResource(g, in, "networkInterfaceCardName", platform.TypeNetworkInterface, dependsOn, props, nil)
}

type VMStep struct{}

func (VMStep) Kind() string { return platform.TypeVirtualMachine }

func (VMStep) Apply(g *Graph, in Input) error {
	vars := [][2]string{
		{"loginUser", in.Login.User},
		{"storageAccountContainerName", ContainerName(in.Name)},
		{"osDiskName", OSDiskName(in.Name)},
		{"dataDiskName", DataDiskName(in.Name)},
		{"virtualMachineName", in.Name},
	}
	if err := setVariables(g, vars); err != nil {
		return err
	}

	osProfile := OSProfile{
		ComputerName:  ComputerName(in.Name),
		AdminUsername: in.Login.User,
	}
	if in.Login.UsesKey() {
		osProfile.LinuxConfiguration = &LinuxConfiguration{
			DisablePasswordAuthentication: "true",
			SSH: SSHConfig{PublicKeys: []SSHPublicKey{{
				Path:    "[concat('/home/',variables('loginUser'),'" + sshKeysSuffix + "')]",
				KeyData: in.Login.PublicKey,
			}}},
		}
	} else {
		osProfile.AdminPassword = in.Login.Password
	}

	osDisk := OSDisk{
		Name:         armtemplate.VariableRef("osDiskName"),
		VHD:          VHD{URI: blobURI("osDiskName")},
		Caching:      "ReadWrite",
		CreateOption: "FromImage",
	}
	storage := StorageProfile{
		OSDisk: osDisk,
		DataDisks: []DataDisk{{
			Name:         armtemplate.VariableRef("dataDiskName"),
			DiskSizeGB:   dataDiskSize,
			Lun:          0,
			VHD:          VHD{URI: blobURI("dataDiskName")},
			CreateOption: "Empty",
		}},
	}
	if custom := in.Image.Custom; custom != nil {
		storage.OSDisk.OSType = linuxOSType
		storage.OSDisk.Image = &VHD{URI: custom.VHDURI()}
	} else {
		storage.ImageReference = &ImageReference{
			Publisher: in.Image.Publisher,
			Offer:     in.Image.Offer,
			SKU:       in.Image.SKU,
			Version:   in.Image.version(),
		}
	}

	props := VirtualMachineProperties{
		HardwareProfile: HardwareProfile{VMSize: in.VMSize},
		OSProfile:       osProfile,
		StorageProfile:  storage,
		NetworkProfile: NetworkProfile{NetworkInterfaces: []IDReference{
			{ID: armtemplate.VariableRef("networkInterfaceCardReference")},
		}},
		DiagnosticsProfile: DiagnosticsProfile{BootDiagnostics: BootDiagnostics{
			Enabled:    true,
			StorageURI: "[concat('http://',variables('storageAccountName'),'" + blobEndpoint + "')]",
		}},
	}
	dependsOn := []string{
		"[concat('Microsoft.Storage/storageAccounts/', variables('storageAccountName'))]",
		"[concat('Microsoft.Network/networkInterfaces/', variables('networkInterfaceCardName'))]",
	}
	return appendResource(g, in, "virtualMachineName", platform.TypeVirtualMachine, dependsOn, props,
		map[string]string{"displayName": "VirtualMachine"})
}

func blobURI(diskVariable string) string {
	return "[concat('http://',variables('storageAccountName'),'" + blobEndpoint +
		"/',variables('storageAccountContainerName'),'/',variables('" + diskVariable + "'),'.vhd')]"
}

func setVariables(g *Graph, vars [][2]string) error {
	for _, kv := range vars {
		if err := g.SetVariable(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func appendResource(g *Graph, in Input, nameVar, typ string, dependsOn []string, props interface{}, tags map[string]string) error {
	raw, err := armtemplate.EncodeProperties(props)
	if err != nil {
		return err
	}
	g.Append(armtemplate.Resource{
		Name:       armtemplate.VariableRef(nameVar),
		Type:       typ,
		Location:   in.Location,
		APIVersion: apiVersion,
		Properties: raw,
		DependsOn:  dependsOn,
		Tags:       tags,
	})
	return nil
}
