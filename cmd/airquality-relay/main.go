package main

import (
	"github.com/nabilahza/IoT-Based-SmartAirQuality/pkg/tasks"
)

func main() {
	tasks.Execute()
}
