// Package tableio implements the Table I/O of spec §4.6: parsing the
// fstab, mountinfo, swaps and utab text grammars (and fstab/utab's shared
// backslash-escaping convention), plus directory import and fstab/utab
// export.
package tableio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/platinasystems/gomount/internal/entry"
	"github.com/platinasystems/gomount/internal/errdefs"
	"github.com/platinasystems/gomount/internal/table"
)

// Encode escapes space, tab, newline and backslash per spec §6:
// space=\040, tab=\011, newline=\012, backslash=\134.
func Encode(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case ' ':
			sb.WriteString(`\040`)
		case '\t':
			sb.WriteString(`\011`)
		case '\n':
			sb.WriteString(`\012`)
		case '\\':
			sb.WriteString(`\134`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Decode reverses Encode.
func Decode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			switch s[i+1 : i+4] {
			case "040":
				sb.WriteByte(' ')
				i += 3
				continue
			case "011":
				sb.WriteByte('\t')
				i += 3
				continue
			case "012":
				sb.WriteByte('\n')
				i += 3
				continue
			case "134":
				sb.WriteByte('\\')
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func fields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
}

func reportParseError(t *table.Table, filename string, lineNumber int, line string) table.ParserAction {
	if f := t.ParserErrorFunc(); f != nil {
		return f(filename, lineNumber, line)
	}
	return table.Continue
}

// ParseFsTab reads the fstab grammar of spec §4.6 into t. Intro and
// trailing comment blocks are retained on t when retainComments is true;
// comments between data lines attach to the following data line.
func ParseFsTab(r io.Reader, filename string, t *table.Table, retainComments bool) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	var pendingComment strings.Builder
	var introComment strings.Builder
	sawData := false
	var lastDataIdx = -1

	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			if retainComments {
				if !sawData {
					introComment.WriteString(line)
					introComment.WriteByte('\n')
				} else {
					pendingComment.WriteString(line)
					pendingComment.WriteByte('\n')
				}
			}
			continue
		}

		flds := fields(line)
		if len(flds) < 3 {
			if reportParseError(t, filename, lineNumber, line) == table.Stop {
				return errdefs.New(errdefs.KindParse, fmt.Sprintf("%s:%d: malformed fstab line", filename, lineNumber))
			}
			continue
		}
		source := Decode(flds[0])
		target := ""
		if len(flds) > 1 {
			target = Decode(flds[1])
		}
		fsType := ""
		if len(flds) > 2 {
			fsType = Decode(flds[2])
		}
		options := ""
		if len(flds) > 3 {
			options = Decode(flds[3])
		}
		freq := 0
		if len(flds) > 4 {
			freq, _ = strconv.Atoi(flds[4])
		}
		order := 0
		if len(flds) > 5 {
			order, _ = strconv.Atoi(flds[5])
		}

		e := entry.NewFsTabEntry(source, target, fsType, options, freq, order)
		if retainComments && pendingComment.Len() > 0 {
			e.AppendComment(strings.TrimSuffix(pendingComment.String(), "\n"))
			pendingComment.Reset()
		}
		t.Push(e)
		sawData = true
		lastDataIdx = t.Len() - 1
	}
	if err := scanner.Err(); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "reading "+filename)
	}
	if retainComments {
		t.SetIntroComment(strings.TrimSuffix(introComment.String(), "\n"))
		if pendingComment.Len() > 0 && lastDataIdx >= 0 {
			t.SetTrailingComment(strings.TrimSuffix(pendingComment.String(), "\n"))
		}
	}
	return nil
}

// WriteFsTab writes t's entries as fstab data lines, preserving attached
// comments and the intro/trailing blocks when retainComments is true.
func WriteFsTab(w io.Writer, t *table.Table, retainComments bool) error {
	bw := bufio.NewWriter(w)
	if retainComments && t.IntroComment() != "" {
		fmt.Fprint(bw, t.IntroComment())
		if !strings.HasSuffix(t.IntroComment(), "\n") {
			fmt.Fprint(bw, "\n")
		}
	}
	for _, e := range t.All() {
		fe, ok := e.(*entry.FsTabEntry)
		if !ok {
			continue
		}
		if retainComments && fe.Comment() != "" {
			for _, line := range strings.Split(fe.Comment(), "\n") {
				// lines kept by ParseFsTab already carry their "#" (or are blank)
				if line == "" || strings.HasPrefix(strings.TrimSpace(line), "#") {
					fmt.Fprintf(bw, "%s\n", line)
				} else {
					fmt.Fprintf(bw, "# %s\n", line)
				}
			}
		}
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			Encode(fe.Source()), Encode(fe.Target()), Encode(fe.FSType()),
			Encode(fe.Options()), fe.BackupFrequency(), fe.FsckOrder())
	}
	if retainComments && t.TrailingComment() != "" {
		fmt.Fprint(bw, t.TrailingComment())
		if !strings.HasSuffix(t.TrailingComment(), "\n") {
			fmt.Fprint(bw, "\n")
		}
	}
	return bw.Flush()
}

// ParseMountInfo reads the /proc/self/mountinfo grammar of spec §4.6:
// "mount_id parent_id major:minor root target vfs_options optional_fields...
// - fs_type source fs_options".
func ParseMountInfo(r io.Reader, filename string, t *table.Table) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		flds := fields(line)
		dashIdx := -1
		for i, f := range flds {
			if f == "-" {
				dashIdx = i
				break
			}
		}
		if dashIdx < 0 || dashIdx < 6 || len(flds) < dashIdx+4 {
			if reportParseError(t, filename, lineNumber, line) == table.Stop {
				return errdefs.New(errdefs.KindParse, fmt.Sprintf("%s:%d: malformed mountinfo line", filename, lineNumber))
			}
			continue
		}

		mountID, err1 := strconv.Atoi(flds[0])
		parentID, err2 := strconv.Atoi(flds[1])
		major, minor, err3 := entry.ParseDeviceID(flds[2])
		if err1 != nil || err2 != nil || err3 != nil {
			if reportParseError(t, filename, lineNumber, line) == table.Stop {
				return errdefs.New(errdefs.KindParse, fmt.Sprintf("%s:%d: malformed mountinfo ids", filename, lineNumber))
			}
			continue
		}

		e := &entry.MountInfoEntry{
			MountID:     mountID,
			ParentID:    parentID,
			DeviceMajor: major,
			DeviceMinor: minor,
			Root:        Decode(flds[3]),
			VFSOptions:  Decode(flds[5]),
		}
		e.SetTarget(Decode(flds[4]))
		if dashIdx > 6 {
			e.OptionalFields = strings.Join(flds[6:dashIdx], " ")
		}
		e.SetFSType(Decode(flds[dashIdx+1]))
		e.SetSource(Decode(flds[dashIdx+2]))
		e.FSOptions = Decode(flds[dashIdx+3])
		t.Push(e)
	}
	if err := scanner.Err(); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "reading "+filename)
	}
	return nil
}

// ParseSwaps reads /proc/swaps: a header line, then whitespace-separated
// data lines (source, type, size, used, priority), per spec §4.6.
func ParseSwaps(r io.Reader, filename string, t *table.Table) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if lineNumber == 1 {
			continue // header
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		flds := fields(line)
		if len(flds) < 5 {
			if reportParseError(t, filename, lineNumber, line) == table.Stop {
				return errdefs.New(errdefs.KindParse, fmt.Sprintf("%s:%d: malformed swaps line", filename, lineNumber))
			}
			continue
		}
		size, _ := strconv.ParseInt(flds[2], 10, 64)
		used, _ := strconv.ParseInt(flds[3], 10, 64)
		priority, _ := strconv.Atoi(flds[4])
		t.Push(entry.NewSwapsEntry(flds[0], flds[1], size, used, priority))
	}
	if err := scanner.Err(); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "reading "+filename)
	}
	return nil
}

// ParseUTab reads the utab lines WriteUTab produces: SRC=, TARGET=, ROOT=,
// OPTS= and ATTRS= fields in that order, the last holding a
// "key=value,..." attributes list.
func ParseUTab(r io.Reader, filename string, t *table.Table) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		flds := fields(line)
		if len(flds) < 4 {
			if reportParseError(t, filename, lineNumber, line) == table.Stop {
				return errdefs.New(errdefs.KindParse, fmt.Sprintf("%s:%d: malformed utab line", filename, lineNumber))
			}
			continue
		}
		e := entry.NewUTabEntry(Decode(strings.TrimPrefix(flds[0], "SRC=")), Decode(strings.TrimPrefix(flds[1], "TARGET=")))
		e.Root = Decode(strings.TrimPrefix(flds[2], "ROOT="))
		e.UserOptions = Decode(strings.TrimPrefix(flds[3], "OPTS="))
		if len(flds) > 4 {
			for _, kv := range strings.Split(strings.TrimPrefix(flds[4], "ATTRS="), ",") {
				if kv == "" {
					continue
				}
				idx := strings.IndexByte(kv, '=')
				if idx < 0 {
					e.ReplaceAttr(Decode(kv), "")
					continue
				}
				e.ReplaceAttr(Decode(kv[:idx]), Decode(kv[idx+1:]))
			}
		}
		t.Push(e)
	}
	if err := scanner.Err(); err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "reading "+filename)
	}
	return nil
}

// WriteUTab writes t's UTabEntry rows in the utab grammar. It is the only
// writer among the four grammars meant to be invoked outside tests: the
// utab Updater (internal/utab) is this library's sole production writer of
// /run/mount/utab.
func WriteUTab(w io.Writer, t *table.Table) error {
	bw := bufio.NewWriter(w)
	for _, e := range t.All() {
		ue, ok := e.(*entry.UTabEntry)
		if !ok {
			continue
		}
		fmt.Fprintf(bw, "SRC=%s TARGET=%s ROOT=%s OPTS=%s ATTRS=%s\n",
			Encode(ue.Source()), Encode(ue.Target()), Encode(ue.Root),
			Encode(ue.UserOptions), Encode(ue.AttrsString()))
	}
	return bw.Flush()
}

// ImportDirectory enumerates regular *.fstab files (skipping dotfiles),
// sorts them by version-aware string comparison, and imports each in order.
func ImportDirectory(dir string, t *table.Table, retainComments bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errdefs.Wrap(errdefs.KindIO, err, "reading directory "+dir)
	}
	var names []string
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !de.Type().IsRegular() && de.Type()&os.ModeSymlink == 0 {
			continue
		}
		if filepath.Ext(name) != ".fstab" {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return versionLess(names[i], names[j]) })

	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return errdefs.Wrap(errdefs.KindIO, err, "opening "+path)
		}
		err = ParseFsTab(f, path, t, retainComments)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "importing %s", path)
		}
	}
	return nil
}

// versionLess compares two filenames the way RPM/dpkg-style version
// comparators do: runs of digits compare numerically, everything else
// compares lexically. No ecosystem library in the retrieval pack performs
// this comparison, so it is implemented directly against the standard
// library (see DESIGN.md).
func versionLess(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		ac, bc := a[ai], b[bi]
		if isDigit(ac) && isDigit(bc) {
			as, ae := ai, ai
			for ae < len(a) && isDigit(a[ae]) {
				ae++
			}
			bs, be := bi, bi
			for be < len(b) && isDigit(b[be]) {
				be++
			}
			an, _ := strconv.Atoi(strings.TrimLeft(a[as:ae], "0") + "0")
			bn, _ := strconv.Atoi(strings.TrimLeft(b[bs:be], "0") + "0")
			// the appended "0" keeps Atoi happy for all-zero runs
			// without changing relative order
			if an != bn {
				return an < bn
			}
			ai, bi = ae, be
			continue
		}
		if ac != bc {
			return ac < bc
		}
		ai++
		bi++
	}
	return len(a)-ai < len(b)-bi
}
