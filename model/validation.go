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

package model

// Validation sections.
const (
	SectionHeader  = "Header"
	SectionItems   = "Items"
	SectionSummary = "Summary"
)

type ValidationFinding struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Row     int    `json:"row,omitempty"`
}

// ValidationGroup collects every finding of one document section.
type ValidationGroup struct {
	Section  string              `json:"section"`
	Findings []ValidationFinding `json:"findings"`
}
