package main

import (
	"github.com/OFFIS-RIT/diligence/internal/bootstrap"
	"github.com/OFFIS-RIT/diligence/internal/server"
	"github.com/OFFIS-RIT/diligence/internal/util"
)

func main() {
	util.LoadEnv()
	bootstrap.Logger()
	server.Init()
}
