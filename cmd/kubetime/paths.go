package main

import "github.com/hackclub/hackatime-desktop/internal/paths"

// DataPaths lets daemon and CLI code refer to data directory helpers without
// qualifying the internal package.
type DataPaths = paths.DataDir
