package quest

import (
	"embed"
	"io/fs"
)

//go:embed builtin
var builtinFS embed.FS

// BuiltinLevelID is the id of the level that ships with the binary.
const BuiltinLevelID = "pingpong"

// Builtin returns the level embedded in the binary: a forked island path with
// a treasure, a gate and a three-round boss, filled from its own phrase deck.
func Builtin() (Level, error) {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		return Level{}, err
	}
	return LoadFS(sub, "pingpong.yaml")
}
