package banner

import (
	"fmt"

	"chatflow/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗      ██████╗ ██╗    ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██║     ██╔═══██╗██║    ██║
██║     ███████║███████║   ██║   █████╗  ██║     ██║   ██║██║ █╗ ██║
██║     ██╔══██║██╔══██║   ██║   ██╔══╝  ██║     ██║   ██║██║███╗██║
╚██████╗██║  ██║██║  ██║   ██║   ██║     ███████╗╚██████╔╝╚███╔███╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝
`

// Print writes the startup banner and the effective config summary.
func Print(eff config.Effective, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Backend:   %s\n", eff.Config.Backend.BaseURL)
	fmt.Printf("Stream:    %s\n", eff.Config.Backend.WSURL)
	fmt.Printf("HITL mode: %s\n", eff.Config.Chat.Mode)
	fmt.Printf("DB Path:   %s\n", eff.Config.Storage.DBPath)
	if eff.Config.Debug.Enabled {
		fmt.Printf("Debug:     http://%s/metrics\n", eff.Config.Debug.Addr)
	}
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	fmt.Printf("Config sources: %s\n", eff.Source)
	fmt.Println("===============================================================")
}
