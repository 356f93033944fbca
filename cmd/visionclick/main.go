package main

import (
	"vision-click/internal/bootstrap"
)

func main() {
	bootstrap.NewApp().Run()
}
