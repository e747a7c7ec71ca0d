/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/blnkfinance/einvoice"
)

// scanCommands walks the incoming root once, bypassing the cache, and prints the
// merged listing. --summary prints only the counters.
func scanCommands(app *engineInstance) *cobra.Command {
	var summaryOnly bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "scan the incoming root and print the listing",
		Run: func(cmd *cobra.Command, args []string) {
			listing, err := app.engine.Refresh(context.Background(), einvoice.ModeNormal)
			if err != nil {
				log.Fatalf("scan failed: %v", err)
			}

			var out any = listing
			if summaryOnly {
				out = listing.Summary
			}
			data, err := json.MarshalIndent(out, "", "    ")
			if err != nil {
				log.Fatalf("Error printing listing: %v\n", err)
			}
			fmt.Println(string(data))
		},
	}
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print only the scan summary")

	return cmd
}
