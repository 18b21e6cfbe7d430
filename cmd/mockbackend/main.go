package main

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"boardsync/backend"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	listenAddr := ":9000"
	if val, ok := os.LookupEnv("MOCK_BACKEND_PORT"); ok {
		listenAddr = ":" + val
	}

	e := backend.NewServer(backend.NewMemory(), log.StandardLogger())
	log.Infof("reference backend listening on %s", listenAddr)
	e.Logger.Fatal(e.Start(listenAddr))
}
