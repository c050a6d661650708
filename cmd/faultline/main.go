// Copyright (C) 2025 Faultline (oss@faultline.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Faultline turns raw telecom fault logs into classified incidents with
// root-cause-analysis reports, and serves retrieval over the results.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
