package main

import (
	"os"

	"task-router/internal/app"
)

// @title Task Router API
// @version 1.0
// @description Intelligent task routing: rule matching, confidence-scored assignment, escalation, and feedback-driven metrics.
// @BasePath /api
func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
