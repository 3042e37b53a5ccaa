package main

import "clinicfront/internal/app"

func main() {
	app.Run()
}
