package server

// Status summarises the bridge for the management API.
type Status struct {
	State            State          `json:"state"`
	Name             string         `json:"name"`
	Username         string         `json:"username"`
	Port             int            `json:"port"`
	SetupURI         string         `json:"setupURI,omitempty"`
	PendingDiscovery []string       `json:"pendingDiscovery,omitempty"`
	Plugins          []PluginStatus `json:"plugins"`
}

// PluginStatus describes one discovered plugin.
type PluginStatus struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Builtin bool   `json:"builtin"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AccessoryInfo describes a bridged or external accessory.
type AccessoryInfo struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid"`
	Category int      `json:"category"`
	Plugin   string   `json:"plugin,omitempty"`
	Platform string   `json:"platform,omitempty"`
	External bool     `json:"external"`
	Address  string   `json:"address,omitempty"`
	Port     int      `json:"port,omitempty"`
	Services []string `json:"services"`
}

// Status returns a snapshot of the bridge.
func (s *Server) Status() Status {
	pending := s.PendingDiscovery()

	s.mu.Lock()
	st := Status{
		State:            s.state,
		Name:             s.cfg.Bridge.Name,
		Username:         s.cfg.Bridge.Username,
		Port:             s.bridgePort,
		SetupURI:         s.setupURI,
		PendingDiscovery: pending,
	}
	s.mu.Unlock()

	for _, d := range s.plugins.Descriptors() {
		ps := PluginStatus{
			Name:    d.Name,
			Version: d.Version,
			Builtin: d.Builtin,
			Path:    d.SearchPath,
		}
		if d.LoadError != nil {
			ps.Error = d.LoadError.Error()
		}
		st.Plugins = append(st.Plugins, ps)
	}
	return st
}

// Accessories lists the bridged accessories followed by the external ones.
func (s *Server) Accessories() []AccessoryInfo {
	s.mu.Lock()
	owners := make(map[string][2]string, len(s.cached))
	for _, acc := range s.cached {
		owners[acc.UUID] = [2]string{acc.PluginName, acc.PlatformName}
	}
	externals := append([]*externalAccessory(nil), s.externals...)
	s.mu.Unlock()

	var out []AccessoryInfo
	for _, acc := range s.bridge.BridgedAccessories() {
		info := AccessoryInfo{
			Name:     acc.DisplayName,
			UUID:     acc.UUID,
			Category: int(acc.Category),
		}
		if owner, ok := owners[acc.UUID]; ok {
			info.Plugin, info.Platform = owner[0], owner[1]
		}
		for _, svc := range acc.Services() {
			info.Services = append(info.Services, svc.DisplayName)
		}
		out = append(out, info)
	}

	for _, ext := range externals {
		info := AccessoryInfo{
			Name:     ext.accessory.DisplayName,
			UUID:     ext.accessory.UUID,
			Category: int(ext.accessory.Category),
			Plugin:   ext.accessory.PluginName,
			Platform: ext.accessory.PlatformName,
			External: true,
			Address:  ext.address,
			Port:     ext.port,
		}
		for _, svc := range ext.accessory.Services() {
			info.Services = append(info.Services, svc.DisplayName)
		}
		out = append(out, info)
	}
	return out
}
