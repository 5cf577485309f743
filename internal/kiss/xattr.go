package kiss

import (
	"strings"

	"golang.org/x/sys/unix"
)

// paxXattrPrefix is the PAX record key prefix used by GNU/star tar for
// extended attributes, so staged tarballs stay readable by system tar.
const paxXattrPrefix = "SCHILY.xattr."

// listXattrs returns the extended attribute names present on path.
func listXattrs(path string) ([]string, error) {
	size, err := unix.Listxattr(path, nil)
	if err != nil || size == 0 {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(path, buf)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range strings.Split(string(buf[:n]), "\x00") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// readXattrs collects every readable attribute on path. Individual
// attributes an unprivileged reader cannot see (trusted.*) are skipped
// rather than failing the walk.
func readXattrs(path string) map[string]string {
	names, err := listXattrs(path)
	if err != nil || len(names) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(names))
	for _, name := range names {
		size, err := unix.Getxattr(path, name, nil)
		if err != nil {
			continue
		}
		buf := make([]byte, size)
		n, err := unix.Getxattr(path, name, buf)
		if err != nil {
			continue
		}
		attrs[name] = string(buf[:n])
	}
	return attrs
}

// applyXattrs sets each attribute on path. Failures are tolerated the same
// way ownership restoration is: setting security.* needs privileges and
// some filesystems reject user.* outright, neither of which should abort an
// otherwise healthy copy.
func applyXattrs(path string, attrs map[string]string) {
	for name, value := range attrs {
		if err := unix.Setxattr(path, name, []byte(value), 0); err != nil {
			debugf("failed to set xattr %s on %s: %v\n", name, path, err)
		}
	}
}

// copyXattrs mirrors the extended attributes of src onto dst.
func copyXattrs(src, dst string) {
	applyXattrs(dst, readXattrs(src))
}

// xattrPAXRecords encodes a file's attributes as PAX records for a tar
// header.
func xattrPAXRecords(path string) map[string]string {
	attrs := readXattrs(path)
	if len(attrs) == 0 {
		return nil
	}
	records := make(map[string]string, len(attrs))
	for name, value := range attrs {
		records[paxXattrPrefix+name] = value
	}
	return records
}

// applyPAXXattrs restores attributes recorded in a tar header onto an
// extracted file.
func applyPAXXattrs(path string, records map[string]string) {
	if len(records) == 0 {
		return
	}
	var attrs map[string]string
	for key, value := range records {
		if !strings.HasPrefix(key, paxXattrPrefix) {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string)
		}
		attrs[strings.TrimPrefix(key, paxXattrPrefix)] = value
	}
	applyXattrs(path, attrs)
}
