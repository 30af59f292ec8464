// hitcount is a small demo web server that counts requests per URL path in
// a persistent store: every hit runs a single locked read-modify-write, so
// counts survive restarts and stay exact under concurrent requests.
package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/flatkv/flatkv/pkg/block"
	"github.com/flatkv/flatkv/pkg/common/log"
	"github.com/flatkv/flatkv/pkg/store"
)

var portFlag = flag.Int("port", 0, "HTTP server port (overrides HITCOUNT_PORT)")

type appConfig struct {
	Port     int
	DataFile string
}

func loadConfig() appConfig {
	godotenv.Load(".env")

	cfg := appConfig{
		Port:     8080,
		DataFile: "hitcount.db",
	}
	if v := os.Getenv("HITCOUNT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("HITCOUNT_DB"); v != "" {
		cfg.DataFile = v
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	return cfg
}

func main() {
	flag.Parse()
	cfg := loadConfig()

	counters := store.New(block.String(), block.Int64())
	if err := counters.Open(cfg.DataFile); err != nil {
		log.GetDefaultLogger().Fatal("opening %s: %s", cfg.DataFile, err)
	}
	defer counters.Close()

	srv := NewServer(cfg.Port, counters)
	if err := srv.Run(); err != nil {
		log.GetDefaultLogger().Fatal("server stopped: %s", err)
	}
}
