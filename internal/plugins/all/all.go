// Package all links the bundled plugin modules into the binary. Each module
// registers itself with the global plugin registry from init().
package all

import (
	_ "homebridge/internal/plugins/daylight"
	_ "homebridge/internal/plugins/demoplatform"
	_ "homebridge/internal/plugins/dummy"
	_ "homebridge/internal/plugins/homeassistant"
	_ "homebridge/internal/plugins/sensors"
	_ "homebridge/internal/plugins/tv"
)
