//go:build !linux

package sortengine

func renameNoReplace(from, to string) error {
	return renameIfAbsent(from, to)
}
