package resourcegraph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// CustomImagePrefix marks image ids that point at a previously captured VHD.
	CustomImagePrefix = "custom"
	// CaptureContainer is the container captured images are written to.
	CaptureContainer = "vhdsnew"
	// LatestVersion selects the newest marketplace image version.
	LatestVersion = "latest"
)

var ErrInvalidImage = errors.New("invalid image selection")

// ImageSelection picks a marketplace image or a custom VHD. Exactly one is set.
type ImageSelection struct {
	Publisher string       `json:"publisher,omitempty"`
	Offer     string       `json:"offer,omitempty"`
	SKU       string       `json:"sku,omitempty"`
	Version   string       `json:"version,omitempty"`
	Custom    *CustomImage `json:"custom,omitempty"`
}

// CustomImage is a VHD captured into an existing storage account.
type CustomImage struct {
	StorageAccount string `json:"storageAccount"`
	VHD            string `json:"vhd"`
}

// Marketplace selects the latest version of a catalog image.
func Marketplace(publisher, offer, sku string) ImageSelection {
	return ImageSelection{Publisher: publisher, Offer: offer, SKU: sku, Version: LatestVersion}
}

// IsCustom reports whether the selection points at a captured VHD.
func (s ImageSelection) IsCustom() bool { return s.Custom != nil }

// ID renders the selection in the form ParseImageID accepts.
func (s ImageSelection) ID() string {
	if s.Custom != nil {
		return CustomImagePrefix + s.Custom.StorageAccount + s.Custom.VHD
	}
	return strings.Join([]string{s.Publisher, s.Offer, s.SKU, s.version()}, ":")
}

func (s ImageSelection) version() string {
	if s.Version == "" {
		return LatestVersion
	}
	return s.Version
}

// Validate checks that exactly one image source is fully specified.
func (s ImageSelection) Validate() error {
	if s.Custom != nil {
		if s.Publisher != "" || s.Offer != "" || s.SKU != "" {
			return fmt.Errorf("%w: custom image must not name a marketplace image", ErrInvalidImage)
		}
		if s.Custom.StorageAccount == "" || s.Custom.VHD == "" {
			return fmt.Errorf("%w: custom image needs a storage account and a vhd", ErrInvalidImage)
		}
		return nil
	}
	if s.Publisher == "" || s.Offer == "" || s.SKU == "" {
		return fmt.Errorf("%w: publisher, offer and sku are required", ErrInvalidImage)
	}
	return nil
}

// VHDURI is the blob URI of a custom image.
func (c CustomImage) VHDURI() string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/system/Microsoft.Compute/Images/%s/%s",
		c.StorageAccount, CaptureContainer, c.VHD)
}

// The storage account is the longest run ending in a digit, or in the
// "storage" suffix node accounts carry, that is followed by a VHD name
// starting with a letter. Captured VHDs carry a dotted job suffix, e.g.
// "golden-osDisk.<guid>.vhd".
var customImageID = regexp.MustCompile(`^` + CustomImagePrefix + `([a-z0-9]*(?:[0-9]|storage))([A-Za-z][A-Za-z0-9_.-]*\.vhd)$`)

// ParseImageID accepts "custom<account><disk>.vhd" for captured images and
// "publisher:offer:sku[:version]" for marketplace images.
func ParseImageID(id string) (ImageSelection, error) {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, CustomImagePrefix) && strings.HasSuffix(id, ".vhd") {
		m := customImageID.FindStringSubmatch(id)
		if m == nil {
			return ImageSelection{}, fmt.Errorf("%w: cannot split custom image id %q", ErrInvalidImage, id)
		}
		return ImageSelection{Custom: &CustomImage{StorageAccount: m[1], VHD: m[2]}}, nil
	}

	parts := strings.Split(id, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return ImageSelection{}, fmt.Errorf("%w: expected publisher:offer:sku[:version], got %q", ErrInvalidImage, id)
	}
	sel := Marketplace(parts[0], parts[1], parts[2])
	if len(parts) == 4 && parts[3] != "" {
		sel.Version = parts[3]
	}
	return sel, sel.Validate()
}
