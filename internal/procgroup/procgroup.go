// SPDX-License-Identifier: MIT

// Package procgroup manages the process groups of the supervised radio
// decoder chain. Both external tools (the FM demodulator and the protocol
// decoder) are spawned as group leaders so that a single kill reaps the
// whole tree, including any helpers they fork.
package procgroup
