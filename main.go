package main

import "github.com/kamilpajak/guardian/cmd/guardian"

func main() {
	guardian.Execute()
}
