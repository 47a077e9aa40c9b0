// Command authia-server runs the domain licensing service: the public
// license validation API and the JSON admin endpoints.
package main

import (
	"context"
	"fmt"
	"os"

	"authia/internal/app"
)

func main() {
	ctx := context.Background()

	application, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authia-server: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		application.Logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
