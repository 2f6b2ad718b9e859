package fingerprint

// Descriptor is the hardware report a client submits at login. Nullable
// scalar fields are pointers so that "absent" and "empty" stay distinct.
type Descriptor struct {
	CPU         *CPU         `json:"cpu" validate:"required"`
	Motherboard *Motherboard `json:"motherboard" validate:"required"`
	GPUs        []GPU        `json:"gpu" validate:"required,dive"`
	Disks       []Disk       `json:"hdds" validate:"required,dive"`
	Memory      []Memory     `json:"memory" validate:"required,dive"`
	BIOS        *BIOS        `json:"bios" validate:"required"`
	OS          *OS          `json:"os" validate:"required"`
	GUID        string       `json:"guid" validate:"required"`
}

type CPU struct {
	Name                 *string  `json:"name"`
	Manufacturer         *string  `json:"manufacturer"`
	ID                   *string  `json:"id"`
	MaxClockSpeed        *float64 `json:"maxClockSpeed"`
	NumCores             *int     `json:"numCores"`
	NumEnabledCores      *int     `json:"numEnabledCores"`
	NumLogicalProcessors *int     `json:"numLogicalProcessors"`
}

type Motherboard struct {
	Name   *string `json:"name"`
	Model  *string `json:"model"`
	Serial *string `json:"serial"`
	SKU    *string `json:"sku"`
}

// GPU identifies a display adapter. DeviceID is a PnP path such as
// `PCI\VEN_10DE&DEV_2684\4&2B4D3C1&0&0008`.
type GPU struct {
	Name     string  `json:"name"`
	DeviceID string  `json:"deviceId" validate:"required"`
	UUID     *string `json:"uuid,omitempty"`
}

type Disk struct {
	Size     float64 `json:"size"`
	DeviceID string  `json:"deviceId" validate:"required"`
	Model    string  `json:"model"`
	Serial   string  `json:"serial"`
}

type Memory struct {
	Bank         *string  `json:"bank"`
	Manufacturer *string  `json:"manufacturer"`
	Model        *string  `json:"model"`
	Name         *string  `json:"name"`
	Capacity     *float64 `json:"capacity"`
	Speed        *float64 `json:"speed"`
	Locator      *string  `json:"locator"`
}

type BIOS struct {
	Manufacturer *string `json:"manufacturer"`
	Name         *string `json:"name"`
	Serial       *string `json:"serial"`
	Version      *string `json:"version"`
	UUID         string  `json:"uuid" validate:"required"`
}

type OS struct {
	Name           string  `json:"name"`
	Version        string  `json:"version"`
	Build          int     `json:"build"`
	InstallDate    string  `json:"installDate"`
	RegisteredUser string  `json:"registeredUser"`
	Serial         *string `json:"serial"`
	Hostname       *string `json:"hostname"`
	Username       *string `json:"username"`
}
