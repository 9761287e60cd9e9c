// pkg/search/search.go

package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/connerr"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opencti"
	"github.com/CodeMonkeyCybersecurity/wazuh-opencti/pkg/opensearch"
)

// ObservableReader resolves referenced observables (parent directories,
// network traffic endpoints) by OpenCTI id.
type ObservableReader interface {
	Observable(ctx context.Context, id string) (*opencti.Entity, error)
}

// Options tunes per-entity-type search behaviour.
type Options struct {
	FileSearch FileSearchOptions
	// IgnorePrivateAddrs skips searches for private, loopback and
	// link-local addresses, which tend to produce noise.
	IgnorePrivateAddrs bool
	// LookupAgentIP includes alerts where the address is the agent's own.
	LookupAgentIP bool
	// LookupAgentName includes alerts where the hostname is the agent's
	// own.
	LookupAgentName bool
}

// Searcher builds and runs alert queries for OpenCTI entities. Each entity
// type has its own set of Wazuh alert fields worth searching; unsupported
// types are a user error, supported types without enough data yield no
// query at all.
type Searcher struct {
	client  *opensearch.Client
	opencti ObservableReader
	opts    Options
	log     *zap.Logger
}

// New creates a Searcher.
func New(client *opensearch.Client, reader ObservableReader, opts Options, log *zap.Logger) *Searcher {
	return &Searcher{client: client, opencti: reader, opts: opts, log: log}
}

// Search queries the alert index for sightings of the entity. A nil result
// with a nil error means the entity carries no searchable data.
func (s *Searcher) Search(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	switch entity.EntityType {
	case "StixFile", "Artifact":
		return s.queryFile(ctx, entity)
	case "IPv4-Addr", "IPv6-Addr":
		return s.queryAddr(ctx, entity)
	case "Mac-Addr":
		return s.queryMAC(ctx, entity)
	case "Network-Traffic":
		return s.queryTraffic(ctx, entity)
	case "Email-Addr":
		return s.queryEmail(ctx, entity)
	case "Domain-Name", "Hostname":
		return s.queryDomain(ctx, entity)
	case "Url":
		return s.queryURL(ctx, entity)
	case "Directory":
		return s.queryDirectory(ctx, entity)
	case "Windows-Registry-Key":
		return s.queryRegKey(ctx, entity)
	case "Windows-Registry-Value-Type":
		return s.queryRegValue(ctx, entity)
	case "Process":
		return s.queryProcess(ctx, entity)
	case "Vulnerability":
		return s.queryVulnerability(ctx, entity)
	case "User-Account":
		return s.queryAccount(ctx, entity)
	case "User-Agent":
		return s.queryUserAgent(ctx, entity)
	default:
		return nil, connerr.NewUserErrorf("%s is not a supported entity type", entity.EntityType)
	}
}

var fileFields = []string{
	"data.ChildPath",
	"data.ParentPath",
	"data.Path",
	"data.TargetPath",
	"data.audit.execve.a1",
	"data.audit.execve.a2",
	"data.audit.execve.a3",
	"data.audit.execve.a4",
	"data.audit.execve.a5",
	"data.audit.execve.a6",
	"data.audit.execve.a7",
	"data.audit.file.name",
	"data.file",
	"data.office365.SourceFileName",
	"data.osquery.columns.path",
	"data.sca.check.file",
	"data.smbd.filename",
	"data.smbd.new_filename",
	"data.virustotal.source.file",
	"data.win.eventdata.file",
	"data.win.eventdata.filePath",
	"data.win.eventdata.image",
	"data.win.eventdata.parentImage",
	"data.win.eventdata.targetFilename",
	"syscheck.path",
}

func (s *Searcher) queryFile(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	fopts := s.opts.FileSearch
	hasHash := entity.HasHash("SHA-256", "SHA-1", "MD5")

	// An artifact's only searchable data is its hashes.
	if entity.EntityType == "Artifact" {
		if !hasHash {
			s.log.Warn("Artifact does not have any hashes")
			return nil, nil
		}
		return s.client.Search(ctx, opensearch.Bool{Should: hashQueries(entity.Hashes)})
	}

	var filenames []string
	if entity.Name != "" {
		filenames = append(filenames, entity.Name)
	}
	if fopts.Has(SearchAdditionalFilenames) {
		filenames = append(filenames, entity.AdditionalNames...)
	}

	var parentPath string
	if fopts.Has(IncludeParentDirRef) && entity.ParentDirectoryRef != "" {
		parent, err := s.opencti.Observable(ctx, entity.ParentDirectoryRef)
		if err != nil {
			return nil, cerr.Wrap(err, "resolving parent directory")
		}
		if parent != nil {
			parentPath = parent.Path
		}
	}

	if !hasHash && !fopts.Has(SearchFilenameOnly) {
		s.log.Info("Observable has no hashes and filename-only search is disabled")
		return nil, nil
	}
	if !hasHash && len(filenames) == 0 {
		s.log.Info("Observable has no hashes and no file names")
		return nil, nil
	}

	pathSet := map[string]struct{}{}
	for _, rawname := range filenames {
		filename := rawname
		if fopts.Has(BasenameOnly) || parentPath != "" {
			filename = BaseName(rawname)
		}
		if parentPath != "" {
			filename = parentPath + PathSep(parentPath) + filename
		}
		pathSet[filename] = struct{}{}
	}
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var must []opensearch.Query
	if hasHash {
		must = append(must, opensearch.Bool{Should: hashQueries(entity.Hashes)})
	} else if entity.Size != nil && fopts.Has(SearchSize) {
		must = append(must, opensearch.MultiMatch{
			Query:  strconv.FormatInt(*entity.Size, 10),
			Fields: []string{"syscheck.size*"},
		})
	}

	if fopts.Has(SearchNameAndHash) || (!hasHash && fopts.Has(SearchFilenameOnly)) {
		switch {
		case !fopts.Has(AllowRegexp):
			var absPaths []string
			for _, p := range paths {
				if IsAbsPath(p) {
					absPaths = append(absPaths, p)
				}
			}
			if len(absPaths) == 0 {
				if fopts.Has(RequireAbsPath) {
					s.log.Info("Absolute paths are required, regexps are not allowed and no paths are absolute")
				} else {
					s.log.Warn("Regexps are not allowed and no paths are absolute")
				}
				if !hasHash {
					return nil, nil
				}
			}
			for _, p := range paths {
				must = append(must, opensearch.MultiMatch{Query: p, Fields: fileFields})
			}

		case !fopts.Has(RequireAbsPath) || allAbs(paths):
			var alternatives []string
			for _, path := range paths {
				escaped := EscapeLuceneRegex(EscapePath(path, 2))
				// Match any number of backslash escapes seen in logs.
				p := strings.ReplaceAll(escaped, `\\`, `\\{2,}`)
				if IsAbsPath(path) {
					alternatives = append(alternatives, p)
				} else {
					alternatives = append(alternatives, `.*[/\\]*`+p)
				}
			}
			var should []opensearch.Query
			for _, field := range fileFields {
				should = append(should, opensearch.Regexp{
					Field:           field,
					Query:           strings.Join(alternatives, "|"),
					CaseInsensitive: fopts.Has(CaseInsensitive),
				})
			}
			must = append(must, opensearch.Bool{Should: should})

		default:
			s.log.Warn("Absolute paths are required and no paths are absolute")
			return nil, nil
		}
	}

	return s.client.Search(ctx, opensearch.Bool{Must: must})
}

func allAbs(paths []string) bool {
	for _, p := range paths {
		if !IsAbsPath(p) {
			return false
		}
	}
	return true
}

// hashQueries returns one query per known hash, matching any field whose
// name contains the algorithm.
func hashQueries(hashes map[string]string) []opensearch.Query {
	fieldByAlgorithm := []struct {
		algorithm string
		field     string
	}{
		{"SHA-256", "*sha256*"},
		{"SHA-1", "*sha1*"},
		{"MD5", "*md5*"},
	}
	var out []opensearch.Query
	for _, m := range fieldByAlgorithm {
		if value := hashes[m.algorithm]; value != "" {
			out = append(out, opensearch.MultiMatch{Query: value, Fields: []string{m.field}})
		}
	}
	return out
}

var addrFields = []string{
	"*.ActorIpAddress",
	"*.ClientIP",
	"*.IP",
	"*.IPAddress",
	"*.LocalIp",
	"*.callerIp",
	"*.dest_ip",
	"*.destination_address",
	"*.dstip",
	"*.ip",
	"*.ipAddress",
	"*.ipv*.address",
	"*.local_address",
	"*.nat_destination_ip",
	"*.nat_source_ip",
	"*.remote_address",
	"*.remote_ip",
	"*.remote_ip_address",
	"*.sourceIPAddress",
	"*.source_address",
	"*.source_ip_address",
	"*.src_ip",
	"*.srcip",
	"data.win.eventdata.queryName",
	"data.osquery.columns.address",
}

func (s *Searcher) queryAddr(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	address := entity.ObservableValue
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, cerr.Newf("%q is not a valid IP address", address)
	}
	if s.opts.IgnorePrivateAddrs && (ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()) {
		s.log.Info("Ignoring private IP address", zap.String("address", address))
		return nil, nil
	}

	if s.opts.LookupAgentIP {
		return s.client.SearchMulti(ctx, addrFields, address)
	}
	return s.client.Search(ctx, opensearch.Bool{
		Must:    []opensearch.Query{opensearch.MultiMatch{Query: address, Fields: addrFields}},
		MustNot: []opensearch.Query{opensearch.Match{Field: "agent.ip", Query: address}},
	})
}

func (s *Searcher) queryMAC(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	fields := []string{
		"*.dmac",
		"*.dst_mac",
		"*.dstmac",
		"*.mac",
		"*.smac",
		"*.src_mac",
		"*.srcmac",
		"data.osquery.columns.interface",
	}
	// MAC addresses appear in both cases in logs.
	return s.client.Search(ctx, opensearch.Bool{
		Should: []opensearch.Query{
			opensearch.MultiMatch{Query: strings.ToLower(entity.ObservableValue), Fields: fields},
			opensearch.MultiMatch{Query: strings.ToUpper(entity.ObservableValue), Fields: fields},
		},
	})
}

func (s *Searcher) queryTraffic(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	var must []opensearch.Query

	if entity.SrcRef != "" {
		src, err := s.opencti.Observable(ctx, entity.SrcRef)
		if err != nil {
			return nil, cerr.Wrap(err, "resolving traffic source")
		}
		if src != nil && src.ObservableValue != "" {
			must = append(must, opensearch.MultiMatch{
				Query: src.ObservableValue,
				Fields: []string{
					"*.LocalIp",
					"*.local_address",
					"*.nat_source_ip",
					"*.sourceIp",
					"*.source_address",
					"*.src_ip",
					"*.srcip",
				},
			})
		}
	}
	if entity.SrcPort != nil {
		must = append(must, opensearch.MultiMatch{
			Query: strconv.Itoa(*entity.SrcPort),
			Fields: []string{
				"*.local_port",
				"*.nat_source_port",
				"*.sourcePort",
				"*.spt",
				"*.src_port",
				"*.srcport",
				"data.IP",
			},
		})
	}
	if entity.DstRef != "" {
		dst, err := s.opencti.Observable(ctx, entity.DstRef)
		if err != nil {
			return nil, cerr.Wrap(err, "resolving traffic destination")
		}
		if dst != nil && dst.ObservableValue != "" {
			must = append(must, opensearch.MultiMatch{
				Query: dst.ObservableValue,
				Fields: []string{
					"*.dest_ip",
					"*.destinationIp",
					"*.destination_address",
					"*.dstip",
					"*.nat_destination_ip",
					"*.remote_address",
				},
			})
		}
	}
	if entity.DstPort != nil {
		must = append(must, opensearch.MultiMatch{
			Query: strconv.Itoa(*entity.DstPort),
			Fields: []string{
				"*.dest_port",
				"*.destinationPort",
				"*.dpt",
				"*.dstport",
				"*.nat_destination_port",
				"*.remote_port",
			},
		})
	}

	if len(must) == 0 {
		return nil, nil
	}
	return s.client.Search(ctx, opensearch.Bool{Must: must})
}

func (s *Searcher) queryEmail(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	return s.client.SearchMulti(ctx, []string{
		"*Email",
		"*email",
		"data.office365.UserId",
	}, entity.Value)
}

var domainFields = []string{
	"*.HostName",
	"*.dns_hostname",
	"*.domain",
	"*.host",
	"*.hostname",
	"*.netbios_hostname",
	"data.dns.question.name",
	"data.win.eventdata.queryName",
}

func (s *Searcher) queryDomain(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	hostname := entity.ObservableValue
	if s.opts.LookupAgentName {
		return s.client.SearchMulti(ctx, domainFields, hostname)
	}
	return s.client.Search(ctx, opensearch.Bool{
		Must: []opensearch.Query{opensearch.MultiMatch{Query: hostname, Fields: domainFields}},
	})
}

func (s *Searcher) queryURL(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	return s.client.SearchMulti(ctx, []string{
		"*url",
		"*Url",
		"*.URL",
		"*.uri",
		"data.office365.MessageURLs",
	}, entity.ObservableValue)
}

func (s *Searcher) queryDirectory(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	path := EscapePath(entity.Path, 2)
	regexPath := strings.ReplaceAll(EscapeLuceneRegex(path), `\\`, `\\{2,}`) + `[/\\]+.*`

	// These fields are not globbable in regexp queries, list them
	// explicitly.
	regexpFields := []string{
		"data.ChildPath",
		"data.ParentPath",
		"data.Path",
		"data.TargetPath",
		"data.audit.file.name",
		"data.smbd.filename",
		"data.smbd.new_filename",
		"data.win.eventdata.image",
		"data.win.eventdata.sourceImage",
		"data.win.eventdata.targetImage",
		"syscheck.path",
	}
	should := []opensearch.Query{
		opensearch.MultiMatch{
			Query: path,
			Fields: []string{
				"*.currentDirectory",
				"*.directory",
				"*.path",
				"*.pwd",
				"data.SourceFilePath",
				"data.TargetPath",
				"data.audit.directory.name",
				"data.home",
				"data.pwd",
			},
		},
	}
	for _, field := range regexpFields {
		should = append(should, opensearch.Regexp{Field: field, Query: regexPath, CaseInsensitive: true})
	}
	return s.client.Search(ctx, opensearch.Bool{Should: should})
}

func (s *Searcher) queryRegKey(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	return s.client.SearchMulti(ctx, []string{
		"data.win.eventdata.targetObject",
		"syscheck.path",
	}, entity.Key)
}

func (s *Searcher) queryRegValue(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	var digest string
	switch entity.DataType {
	case "REG_SZ", "REG_EXPAND_SZ":
		sum := sha256.Sum256([]byte(entity.Data))
		digest = hex.EncodeToString(sum[:])
	case "REG_BINARY":
		// The standard allows any encoding for binary data. Hex strings are
		// the only searchable form.
		raw, err := hex.DecodeString(entity.Data)
		if err != nil {
			s.log.Warn("Registry value binary data is not a hex string",
				zap.String("data", entity.Data))
			return nil, nil
		}
		sum := sha256.Sum256(raw)
		digest = hex.EncodeToString(sum[:])
	default:
		s.log.Info("Registry value data type is not supported",
			zap.String("data_type", entity.DataType))
		return nil, nil
	}

	return s.client.SearchMulti(ctx, []string{"syscheck.sha256_after"}, digest)
}

func (s *Searcher) queryProcess(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	if entity.CommandLine == "" {
		return nil, nil
	}
	tokens := TokenizeCommandLine(entity.CommandLine)
	if len(tokens) == 0 {
		return nil, nil
	}

	command := BaseName(tokens[0])
	escCommand := EscapeLuceneRegex(command)
	args := make([]string, 0, len(tokens)-1)
	for _, arg := range tokens[1:] {
		args = append(args, EscapePath(TrimUnescapedQuotes(arg), 8))
	}

	winFields := []string{
		"data.win.eventdata.commandLine",
		"data.win.eventdata.details",
		"data.win.eventdata.image",
		"data.win.eventdata.parentCommandLine",
		"data.win.eventdata.sourceImage",
		"data.win.eventdata.targetImage",
	}
	var should []opensearch.Query
	for _, field := range winFields {
		clause := opensearch.Bool{
			Must: []opensearch.Query{
				opensearch.Regexp{
					Field:           field,
					Query:           fmt.Sprintf(`(.+[\\/])?%s.*`, escCommand),
					CaseInsensitive: true,
				},
			},
		}
		for _, arg := range args {
			clause.Must = append(clause.Must, opensearch.Wildcard{
				Field:           field,
				Query:           "*" + arg + "*",
				CaseInsensitive: true,
			})
		}
		should = append(should, clause)
	}

	unixClause := opensearch.Bool{
		Must: []opensearch.Query{
			opensearch.Regexp{
				Field:           "data.command",
				Query:           fmt.Sprintf("(.+/)?%s.*", escCommand),
				CaseInsensitive: true,
			},
		},
	}
	for _, arg := range args {
		unixClause.Must = append(unixClause.Must, opensearch.Wildcard{
			Field:           "data.command",
			Query:           "*" + arg + "*",
			CaseInsensitive: true,
		})
	}
	should = append(should, unixClause)

	auditClause := opensearch.Bool{
		Must: []opensearch.Query{opensearch.Match{Field: "data.audit.command", Query: command}},
	}
	for _, arg := range args {
		auditClause.Should = append(auditClause.Should, opensearch.MultiMatch{
			Query:  arg,
			Fields: []string{"data.audit.execve.a*"},
		})
	}
	should = append(should, auditClause)

	return s.client.Search(ctx, opensearch.Bool{Should: should})
}

func (s *Searcher) queryVulnerability(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	return s.client.SearchMatch(ctx, map[string]string{
		"data.vulnerability.cve": entity.Name,
	})
}

var usernameFields = []string{
	"*.LoggedUser",
	"*.destination_user",
	"*.dstuser",
	"*.parentUser",
	"*.sourceUser",
	"*.source_user",
	"*.srcuser",
	"*.user",
	"*.userName",
	"*.username",
	"data.gcp.protoPayload.authenticationInfo.principalEmail",
	"data.gcp.resource.labels.email_id",
	"data.office365.UserId",
	"data.win.eventdata.samAccountname",
	"syscheck.uname_after",
	"syscheck.uname_before",
}

var uidFields = []string{
	"data.userID",
	"data.win.eventdata.subjectUserSid",
	"data.win.eventdata.targetSid",
	"syscheck.uid_after",
	"syscheck.uid_before",
	"*.auid",
	"*.euid",
	"*.fsuid",
	"*.inode_uid",
	"*.oauid",
	"*.obj_uid",
	"*.ouid",
	"*.sauid",
	"*.suid",
	"*.uid",
	"data.aws.userIdentity.accountId",
	"data.aws.userIdentity.principalId",
}

var accountUIDInName = regexp.MustCompile(`^(?P<name>[^(]+)\(uid=(?P<uid>\d+)\)$`)

func (s *Searcher) queryAccount(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	uid := entity.UserID
	username := entity.AccountLogin
	// Some audit logs render the username as "name(uid=N)".
	if m := accountUIDInName.FindStringSubmatch(username); m != nil {
		username, uid = m[1], m[2]
	}

	switch {
	case username != "" && uid != "":
		return s.client.Search(ctx, opensearch.Bool{
			Must: []opensearch.Query{
				opensearch.MultiMatch{Query: username, Fields: usernameFields},
				opensearch.MultiMatch{Query: uid, Fields: uidFields},
			},
		})
	case username != "":
		return s.client.SearchMulti(ctx, usernameFields, username)
	case uid != "":
		return s.client.SearchMulti(ctx, uidFields, uid)
	default:
		return nil, nil
	}
}

func (s *Searcher) queryUserAgent(ctx context.Context, entity *opencti.Entity) (*opensearch.Result, error) {
	return s.client.SearchMulti(ctx, []string{"data.aws.userAgent"}, entity.Value)
}
