package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nrfprobe/nrfprobe/internal/nrf"
)

//go:embed devices.yaml
var devicesYAML []byte

// Variant is one memory configuration of a part.
type Variant struct {
	Code    string `yaml:"code"`
	FlashKB uint32 `yaml:"flash_kb"`
	RAMKB   uint32 `yaml:"ram_kb"`
}

// CoreGeometry describes the secondary core of a dual-core part.
type CoreGeometry struct {
	FlashKB      uint32 `yaml:"flash_kb"`
	RAMKB        uint32 `yaml:"ram_kb"`
	PageSize     uint32 `yaml:"page_size"`
	RAMSectionKB uint32 `yaml:"ram_section_kb"`
}

// Device is one catalog entry.
type Device struct {
	Name         string            `yaml:"name"`
	Part         uint32            `yaml:"part"`
	Family       string            `yaml:"family"`
	PageSize     uint32            `yaml:"page_size"`
	RAMSectionKB uint32            `yaml:"ram_section_kb"`
	BlockProt    string            `yaml:"block_protection"`
	QSPI         bool              `yaml:"qspi"`
	XIPBase      uint32            `yaml:"xip_base"`
	RevChar      *int              `yaml:"rev_char"`
	FixedMemory  string            `yaml:"fixed_memory"`
	Coprocessors []string          `yaml:"coprocessors"`
	Network      *CoreGeometry     `yaml:"network"`
	Variants     []Variant         `yaml:"variants"`
	Revisions    map[string]string `yaml:"revisions"`
}

// HWIDEntry classifies an nRF51 part by its FICR CONFIGID hardware ID.
type HWIDEntry struct {
	HWID     uint16 `yaml:"hwid"`
	Name     string `yaml:"name"`
	Memory   string `yaml:"memory"`
	Revision string `yaml:"revision"`
}

// Catalog is the loaded device knowledge base.
type Catalog struct {
	Devices []*Device
	HWIDs   []HWIDEntry

	byPart map[uint32]*Device
	byName map[string]*Device
}

type catalogContainer struct {
	Devices []*Device   `yaml:"devices"`
	HWIDs   []HWIDEntry `yaml:"hwids"`
}

var (
	globalCatalog *Catalog
	globalOnce    sync.Once
	globalErr     error
)

// Load parses the embedded device matrix. Safe to call from any goroutine;
// the catalog is parsed once per process.
func Load() (*Catalog, error) {
	globalOnce.Do(func() {
		globalCatalog, globalErr = loadInternal()
	})
	return globalCatalog, globalErr
}

func loadInternal() (*Catalog, error) {
	var container catalogContainer
	if err := yaml.Unmarshal(devicesYAML, &container); err != nil {
		return nil, fmt.Errorf("failed to parse devices.yaml: %w", err)
	}

	c := &Catalog{
		Devices: container.Devices,
		HWIDs:   container.HWIDs,
		byPart:  make(map[uint32]*Device),
		byName:  make(map[string]*Device),
	}
	for _, d := range c.Devices {
		// nRF51 entries have no part number; they only resolve by name.
		if d.Part != 0 {
			c.byPart[d.Part] = d
		}
		c.byName[d.Name] = d
	}
	return c, nil
}

// ByPart looks up a device by its FICR INFO.PART value.
func (c *Catalog) ByPart(part uint32) (*Device, bool) {
	d, ok := c.byPart[part]
	return d, ok
}

// ByName looks up a device by its part name, e.g. "NRF52840".
func (c *Catalog) ByName(name string) (*Device, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// ClassifyPart resolves an INFO.PART / INFO.VARIANT pair into a version
// tuple. Unknown parts return an unknown version and ok == false; unknown
// revision letters of known parts classify as RevisionFuture.
func (c *Catalog) ClassifyPart(part uint32, variant [4]byte) (nrf.Version, *Device, bool) {
	d, ok := c.byPart[part]
	if !ok {
		return nrf.Version{}, nil, false
	}
	return d.Classify(variant), d, true
}

// ClassifyHWID resolves an nRF51 CONFIGID hardware ID. Unknown IDs map to
// the generic NRF51xxx name with a FUTURE revision so programming can
// proceed with conservative settings.
func (c *Catalog) ClassifyHWID(hwid uint16) nrf.Version {
	for _, e := range c.HWIDs {
		if e.HWID == hwid {
			return nrf.Version{
				Name:     deviceNameFromString(e.Name),
				Memory:   memoryFromString(e.Memory),
				Revision: revisionFromString(e.Revision),
			}
		}
	}
	return nrf.Version{Name: nrf.NRF51xxx, Memory: nrf.MemoryUnknown, Revision: nrf.RevisionFuture}
}

// Classify decodes a FICR INFO.VARIANT word for this device.
func (d *Device) Classify(variant [4]byte) nrf.Version {
	v := nrf.Version{Name: d.DeviceName()}

	if d.FixedMemory != "" {
		v.Memory = memoryFromString(d.FixedMemory)
	} else {
		v.Memory = memoryFromString(string(variant[0:2]))
		if v.Memory == nrf.MemoryUnknown {
			// Unreadable variant, assume the lead configuration.
			if len(d.Variants) > 0 {
				v.Memory = memoryFromString(d.Variants[0].Code)
			}
		}
	}

	idx := 2
	if d.RevChar != nil {
		idx = *d.RevChar
	}
	rev, ok := d.Revisions[string(variant[idx:idx+1])]
	if !ok {
		v.Revision = nrf.RevisionFuture
		return v
	}
	v.Revision = revisionFromString(rev)
	return v
}

// DeviceName maps the catalog name to its identification constant.
func (d *Device) DeviceName() nrf.DeviceName {
	return deviceNameFromString(d.Name)
}

// FamilyID maps the catalog family string to its constant.
func (d *Device) FamilyID() nrf.Family {
	f, err := nrf.ParseFamily(d.Family)
	if err != nil {
		return nrf.FamilyUnknown
	}
	return f
}

// VariantByCode returns the geometry defaults for a memory code.
func (d *Device) VariantByCode(code nrf.MemoryCode) (Variant, bool) {
	for _, v := range d.Variants {
		if memoryFromString(v.Code) == code {
			return v, true
		}
	}
	return Variant{}, false
}

// HasCoprocessor reports whether the part hosts the given coprocessor.
func (d *Device) HasCoprocessor(cp nrf.CoProcessor) bool {
	if len(d.Coprocessors) == 0 {
		return cp == nrf.CPApplication
	}
	for _, name := range d.Coprocessors {
		if name == cp.String() {
			return true
		}
	}
	return false
}

func deviceNameFromString(s string) nrf.DeviceName {
	switch s {
	case "NRF51xxx":
		return nrf.NRF51xxx
	case "NRF51801":
		return nrf.NRF51801
	case "NRF51802":
		return nrf.NRF51802
	case "NRF52805":
		return nrf.NRF52805
	case "NRF52810":
		return nrf.NRF52810
	case "NRF52811":
		return nrf.NRF52811
	case "NRF52820":
		return nrf.NRF52820
	case "NRF52832":
		return nrf.NRF52832
	case "NRF52833":
		return nrf.NRF52833
	case "NRF52840":
		return nrf.NRF52840
	case "NRF5340":
		return nrf.NRF5340
	case "NRF9120":
		return nrf.NRF9120
	case "NRF9160":
		return nrf.NRF9160
	default:
		return nrf.NameUnknown
	}
}

func memoryFromString(s string) nrf.MemoryCode {
	switch s {
	case "AA":
		return nrf.MemoryAA
	case "AB":
		return nrf.MemoryAB
	case "AC":
		return nrf.MemoryAC
	default:
		return nrf.MemoryUnknown
	}
}

func revisionFromString(s string) nrf.Revision {
	switch s {
	case "ENGA":
		return nrf.RevisionEngA
	case "ENGB":
		return nrf.RevisionEngB
	case "ENGC":
		return nrf.RevisionEngC
	case "REV1":
		return nrf.RevisionRev1
	case "REV2":
		return nrf.RevisionRev2
	case "REV3":
		return nrf.RevisionRev3
	case "FUTURE":
		return nrf.RevisionFuture
	default:
		return nrf.RevisionUnknown
	}
}
