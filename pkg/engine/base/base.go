// SPDX-License-Identifier: Apache-2.0

// Package base holds the driver plumbing that is identical across
// engines: each concrete driver supplies only the strategy bits that
// differ (placeholder syntax, isolation-level SQL) and delegates
// parameter binding and result shaping here.
package base

import "fmt"

// PlaceholderDollar formats placeholders as $1, $2, ... (PostgreSQL).
func PlaceholderDollar(n int) string { return fmt.Sprintf("$%d", n) }

// PlaceholderQuestion formats placeholders as ? (MySQL, SQLite, DB2).
func PlaceholderQuestion(int) string { return "?" }
