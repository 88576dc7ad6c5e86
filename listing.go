package ftpsession

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntryType is the kind of a listed entry.
type EntryType byte

const (
	EntryFile EntryType = 'f'
	EntryDir  EntryType = 'd'
	EntryLink EntryType = 'l'
)

// DirEntry is one parsed line of a LIST reply.
//
// Date fields are kept as listed. Time is derived from them in UTC and is
// zero when the month is unknown. Listings that show a time instead of a
// year get the current year.
type DirEntry struct {
	Type   EntryType
	Perms  string
	Links  int
	Owner  string
	Group  string
	Size   int64
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Time   time.Time
	Name   string
	// Target is the link target of a symbolic link ("name -> target").
	Target string
	Raw    string
}

// IsDir reports whether the entry is a directory.
func (e *DirEntry) IsDir() bool {
	return e.Type == EntryDir
}

// IsLink reports whether the entry is a symbolic link.
func (e *DirEntry) IsLink() bool {
	return e.Type == EntryLink
}

// Mode converts the symbolic permissions ("drwxr-xr-x") to an os.FileMode.
// Entries without permissions (Windows listings) only carry the type bits.
func (e *DirEntry) Mode() os.FileMode {
	var mode os.FileMode
	switch e.Type {
	case EntryDir:
		mode = os.ModeDir
	case EntryLink:
		mode = os.ModeSymlink
	}

	if len(e.Perms) < 10 {
		return mode
	}
	for i, c := range e.Perms[1:10] {
		if c != '-' && c != 'S' && c != 'T' {
			mode |= 1 << uint(8-i)
		}
	}
	return mode
}

// ListingParser parses one LIST line. It returns false for lines it does
// not recognize.
type ListingParser interface {
	Parse(line string) (*DirEntry, bool)
}

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var clockRegex = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// UnixParser parses "ls -l" style lines. Two layouts are recognized by
// field count:
//
//	-rw-r--r-- 1 owner group 1024 2006-01-02 15:04 name           (8 fields)
//	-rw-r--r-- 1 owner group 1024 Jan  2 15:04 name               (9 fields)
//	-rw-r--r-- 1 owner group 1024 Jan  2  2006 name               (9 fields)
//
// A name with spaces in the 8 field layout is read as 9 fields.
type UnixParser struct {
	// Now supplies the current year for entries listed with a time.
	// Defaults to time.Now.
	Now func() time.Time
}

func (p *UnixParser) Parse(line string) (*DirEntry, bool) {
	fields := splitListing(line, 9)
	if len(fields) < 8 {
		return nil, false
	}

	e := &DirEntry{Raw: line, Perms: fields[0]}
	switch fields[0][0] {
	case 'd':
		e.Type = EntryDir
	case 'l':
		e.Type = EntryLink
	default:
		e.Type = EntryFile
	}
	e.Links, _ = strconv.Atoi(fields[1])
	e.Owner = fields[2]
	e.Group = fields[3]
	if size, err := strconv.ParseInt(fields[4], 10, 64); err == nil {
		e.Size = size
	}

	if len(fields) == 8 {
		date := strings.SplitN(fields[5], "-", 3)
		if len(date) == 3 {
			e.Year, _ = strconv.Atoi(date[0])
			e.Month, _ = strconv.Atoi(date[1])
			e.Day, _ = strconv.Atoi(date[2])
		}
		if clock := strings.SplitN(fields[6], ":", 2); len(clock) == 2 {
			e.Hour, _ = strconv.Atoi(clock[0])
			e.Minute, _ = strconv.Atoi(clock[1])
		}
		e.Name = fields[7]
	} else {
		e.Month = months[strings.ToLower(fields[5])]
		e.Day, _ = strconv.Atoi(fields[6])
		if m := clockRegex.FindStringSubmatch(fields[7]); m != nil {
			now := time.Now
			if p.Now != nil {
				now = p.Now
			}
			e.Year = now().Year()
			e.Hour, _ = strconv.Atoi(m[1])
			e.Minute, _ = strconv.Atoi(m[2])
		} else {
			e.Year, _ = strconv.Atoi(fields[7])
		}
		e.Name = fields[8]
	}

	if e.Type == EntryLink {
		if name, target, ok := strings.Cut(e.Name, " -> "); ok {
			e.Name, e.Target = name, target
		}
	}
	e.Time = entryTime(e)
	return e, true
}

// splitListing splits line on spaces into at most n fields. Runs of spaces
// separate like one; the last field is the rest of the line.
func splitListing(line string, n int) []string {
	var fields []string
	rest := strings.TrimRight(line, "\r\n")
	for len(fields) < n-1 {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return fields
		}
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return append(fields, rest)
		}
		fields = append(fields, rest[:i])
		rest = rest[i:]
	}
	if rest = strings.TrimLeft(rest, " "); rest != "" {
		fields = append(fields, rest)
	}
	return fields
}

var windowsRegex = regexp.MustCompile(`(\d{2})-(\d{2})-(\d{2}) +(\d{2}):(\d{2})(AM|PM) +(\d+|<DIR>) +(.+)`)

// WindowsParser parses "dir" style lines as sent by IIS:
//
//	01-02-06  03:04PM       <DIR>          folder
//	01-02-06  03:04PM                 1024 file.txt
//
// Two digit years below 70 are 20xx.
type WindowsParser struct{}

func (p *WindowsParser) Parse(line string) (*DirEntry, bool) {
	m := windowsRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	e := &DirEntry{Raw: line, Type: EntryFile}
	e.Month, _ = strconv.Atoi(m[1])
	e.Day, _ = strconv.Atoi(m[2])
	e.Year, _ = strconv.Atoi(m[3])
	if e.Year < 70 {
		e.Year += 2000
	} else {
		e.Year += 1900
	}
	e.Hour, _ = strconv.Atoi(m[4])
	e.Minute, _ = strconv.Atoi(m[5])
	switch {
	case m[6] == "PM" && e.Hour < 12:
		e.Hour += 12
	case m[6] == "AM" && e.Hour == 12:
		e.Hour = 0
	}

	if m[7] == "<DIR>" {
		e.Type = EntryDir
	} else {
		e.Size, _ = strconv.ParseInt(m[7], 10, 64)
	}
	e.Name = strings.TrimRight(m[8], "\r\n")
	e.Time = entryTime(e)
	return e, true
}

func entryTime(e *DirEntry) time.Time {
	if e.Month < 1 || e.Month > 12 {
		return time.Time{}
	}
	return time.Date(e.Year, time.Month(e.Month), e.Day, e.Hour, e.Minute, 0, 0, time.UTC)
}

// ParseListing parses one LIST line. Parsers added with WithListingParser
// are tried first; otherwise the format follows the remote OS detected from
// SYST. Unrecognized lines yield false.
func (s *Session) ParseListing(line string) (*DirEntry, bool) {
	for _, p := range s.parsers {
		if e, ok := p.Parse(line); ok {
			return e, true
		}
	}
	if s.remoteOS == OSWindows {
		return (&WindowsParser{}).Parse(line)
	}
	return (&UnixParser{Now: s.now}).Parse(line)
}

// entries parses listing lines, dropping unrecognized lines and the "." and
// ".." entries.
func (s *Session) entries(lines []string) []*DirEntry {
	var out []*DirEntry
	for _, line := range lines {
		e, ok := s.ParseListing(line)
		if !ok || e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, e)
	}
	return out
}
