package main

import (
	"github.com/ankith2004ahms/video-calling/internal/command"
	"github.com/ankith2004ahms/video-calling/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	command.Execute()
}
