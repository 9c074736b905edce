package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Built-in rule categories.
const (
	CategoryLOLBAS         = "lolbas"
	CategorySuspiciousPath = "suspicious_path"
	CategoryFileAccess     = "file_access"
	CategoryPersistence    = "persistence"
	CategoryParentChild    = "parent_child"
)

// lolbasBinaries maps legitimate system binaries known to be abused for
// malicious execution to a 0-100 abuse risk and a short description.
var lolbasBinaries = []struct {
	name string
	risk int
	desc string
}{
	{"cmd.exe", 10, "Windows Command Processor"},
	{"powershell.exe", 20, "PowerShell scripting engine"},
	{"pwsh.exe", 20, "PowerShell Core"},
	{"wscript.exe", 25, "Windows Script Host"},
	{"cscript.exe", 25, "Console Script Host"},
	{"mshta.exe", 30, "HTML Application Host"},
	{"rundll32.exe", 20, "DLL execution utility"},
	{"regsvr32.exe", 25, "Register/unregister DLLs"},
	{"msiexec.exe", 15, "Windows Installer"},
	{"msbuild.exe", 20, "Microsoft Build Engine"},
	{"installutil.exe", 25, ".NET Installation Utility"},
	{"regasm.exe", 25, "Assembly Registration Utility"},
	{"regsvcs.exe", 25, ".NET Component Services"},
	{"certutil.exe", 25, "Certificate Utility"},
	{"bitsadmin.exe", 20, "BITS Administration"},
	{"wmic.exe", 15, "WMI Command-line"},
	{"cmstp.exe", 30, "Connection Manager Profile Installer"},
	{"forfiles.exe", 20, "Batch file processor"},
	{"pcalua.exe", 25, "Program Compatibility Assistant"},
	{"schtasks.exe", 15, "Task Scheduler"},
	{"at.exe", 25, "AT scheduler (deprecated)"},
	{"sc.exe", 15, "Service Control Manager"},
	{"reg.exe", 10, "Registry Console Tool"},
	{"netsh.exe", 15, "Network Shell"},
	{"control.exe", 15, "Control Panel"},
	{"ieexec.exe", 30, "IE Application Deployment"},
	{"dnscmd.exe", 25, "DNS Server Manager"},
	{"ftp.exe", 20, "FTP Client"},
	{"desktopimgdownldr.exe", 30, "Desktop Image Downloader"},
	{"esentutl.exe", 25, "Extensible Storage Engine Utility"},
	{"expand.exe", 15, "Cabinet File Expander"},
	{"extrac32.exe", 20, "Cabinet File Extractor"},
	{"gpscript.exe", 25, "Group Policy Script"},
	{"hh.exe", 25, "HTML Help Executable"},
	{"infdefaultinstall.exe", 30, "INF Default Installer"},
	{"makecab.exe", 15, "Cabinet File Maker"},
	{"mavinject.exe", 35, "Application Verifier Injection"},
	{"microsoft.workflow.compiler.exe", 30, "Workflow Compiler"},
	{"msdt.exe", 30, "Diagnostics Troubleshooter"},
	{"odbcconf.exe", 25, "ODBC Configuration"},
	{"pcwrun.exe", 25, "Program Compatibility Wizard"},
	{"presentationhost.exe", 25, "WPF Host"},
	{"rasautou.exe", 25, "RAS AutoDial"},
	{"runscripthelper.exe", 30, "Run Script Helper"},
	{"scriptrunner.exe", 30, "Script Runner"},
	{"syncappvpublishingserver.exe", 30, "App-V Publishing Server Sync"},
	{"tttracer.exe", 25, "Time Travel Tracer"},
	{"verclsid.exe", 25, "CLSID Verification"},
	{"wab.exe", 25, "Windows Address Book"},
	{"winrm.exe", 20, "Windows Remote Management"},
	{"wsl.exe", 15, "Windows Subsystem for Linux"},
	{"wsreset.exe", 25, "Windows Store Reset"},
	{"xwizard.exe", 30, "Extensible Wizard Host"},
}

// suspiciousPaths flags executables running from locations legitimate
// software rarely uses.
var suspiciousPaths = []struct {
	slug    string
	pattern string
	risk    int
	desc    string
}{
	{"temp-exe", `\\temp\\[^\\]+\.exe$`, 30, "Executable in Temp folder"},
	{"tmp-exe", `\\tmp\\[^\\]+\.exe$`, 30, "Executable in Tmp folder"},
	{"appdata-local-temp", `\\appdata\\local\\temp\\`, 25, "Running from AppData local Temp"},
	{"appdata-roaming-exe", `\\appdata\\roaming\\[^\\]+\.exe$`, 20, "Executable directly in AppData Roaming"},
	{"appdata-local-exe", `\\appdata\\local\\[^\\]+\.exe$`, 20, "Executable directly in AppData Local"},
	{"downloads-exe", `\\downloads\\[^\\]+\.exe$`, 15, "Executable in Downloads folder"},
	{"desktop-exe", `\\desktop\\[^\\]+\.exe$`, 10, "Executable on Desktop"},
	{"users-public", `\\users\\public\\`, 25, "Running from Public folder"},
	{"programdata-exe", `\\programdata\\[^\\]+\.exe$`, 20, "Executable directly in ProgramData"},
	{"drive-root-exe", `^c:\\[^\\]+\.exe$`, 20, "Executable at root of system drive"},
	{"recycle-bin", `\\\$recycle\.bin\\`, 35, "Running from Recycle Bin"},
	{"recycler", `\\recycler\\`, 35, "Running from Recycler"},
	{"system-volume-information", `\\system volume information\\`, 35, "Running from System Volume Information"},
	{"windows-upgrade", `\\\$windows\.~(bt|ws)\\`, 20, "Running from Windows upgrade folder"},
	{"perflogs", `\\perflogs\\`, 25, "Running from PerfLogs"},
	{"network-share", `^\\\\[^\\]+\\`, 15, "Running from network share"},
	{"hash-name", `\\[a-f0-9]{32}\.exe$`, 25, "Executable with hash-like name"},
	{"guid-name", `\\[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}\.exe$`, 25, "Executable with GUID name"},
	{"double-extension", `\.[a-z]{3,4}\.exe$`, 30, "Double file extension"},
}

// sensitiveFileAccess flags access to credential stores, security
// configuration, and persistence locations.
var sensitiveFileAccess = []struct {
	slug    string
	pattern string
	risk    int
	desc    string
	tag     string
	mitre   string
}{
	{"sam-database", `\\windows\\system32\\config\\sam$`, 40, "SAM database access", "credential_access", "T1003.002"},
	{"system-hive", `\\windows\\system32\\config\\system$`, 35, "SYSTEM registry hive access", "credential_access", "T1003.002"},
	{"security-hive", `\\windows\\system32\\config\\security$`, 35, "SECURITY registry hive access", "credential_access", "T1003.002"},
	{"ntds-dit", `\\windows\\ntds\\ntds\.dit$`, 45, "NTDS.dit access", "credential_access", "T1003.003"},
	{"chrome-logins", `\\appdata\\local\\google\\chrome\\user data\\[^\\]+\\login data$`, 35, "Chrome password store access", "credential_access", "T1555.003"},
	{"firefox-logins", `\\mozilla\\firefox\\profiles\\[^\\]+\\logins\.json$`, 35, "Firefox password store access", "credential_access", "T1555.003"},
	{"lsass", `\\windows\\system32\\lsass\.exe$`, 40, "LSASS access", "credential_access", "T1003.001"},
	{"hosts-file", `\\windows\\system32\\drivers\\etc\\hosts$`, 20, "Hosts file access", "defense_evasion", "T1565.001"},
	{"startup-folder", `\\start menu\\programs\\startup\\`, 25, "Startup folder access", "persistence", "T1547.001"},
	{"shadow-copy", `harddiskvolumeshadowcopy`, 30, "Shadow copy access", "credential_access", "T1003.003"},
}

// spawnPairs are parent/child combinations that rarely occur outside of
// exploitation or living-off-the-land tradecraft.
var spawnPairs = []struct {
	parent string
	child  string
	risk   int
	desc   string
}{
	{"winword.exe", "cmd.exe", 35, "Word spawning command prompt"},
	{"winword.exe", "powershell.exe", 40, "Word spawning PowerShell"},
	{"winword.exe", "wscript.exe", 40, "Word spawning Windows Script Host"},
	{"winword.exe", "cscript.exe", 40, "Word spawning Console Script Host"},
	{"winword.exe", "mshta.exe", 45, "Word spawning MSHTA"},
	{"excel.exe", "cmd.exe", 35, "Excel spawning command prompt"},
	{"excel.exe", "powershell.exe", 40, "Excel spawning PowerShell"},
	{"excel.exe", "wscript.exe", 40, "Excel spawning Windows Script Host"},
	{"excel.exe", "cscript.exe", 40, "Excel spawning Console Script Host"},
	{"excel.exe", "mshta.exe", 45, "Excel spawning MSHTA"},
	{"powerpnt.exe", "cmd.exe", 35, "PowerPoint spawning command prompt"},
	{"powerpnt.exe", "powershell.exe", 40, "PowerPoint spawning PowerShell"},
	{"outlook.exe", "cmd.exe", 35, "Outlook spawning command prompt"},
	{"outlook.exe", "powershell.exe", 40, "Outlook spawning PowerShell"},
	{"outlook.exe", "wscript.exe", 40, "Outlook spawning Windows Script Host"},
	{"iexplore.exe", "cmd.exe", 30, "Internet Explorer spawning command prompt"},
	{"iexplore.exe", "powershell.exe", 35, "Internet Explorer spawning PowerShell"},
	{"chrome.exe", "cmd.exe", 25, "Chrome spawning command prompt"},
	{"chrome.exe", "powershell.exe", 30, "Chrome spawning PowerShell"},
	{"firefox.exe", "cmd.exe", 25, "Firefox spawning command prompt"},
	{"firefox.exe", "powershell.exe", 30, "Firefox spawning PowerShell"},
	{"msedge.exe", "cmd.exe", 25, "Edge spawning command prompt"},
	{"msedge.exe", "powershell.exe", 30, "Edge spawning PowerShell"},
	{"wscript.exe", "powershell.exe", 35, "WScript spawning PowerShell"},
	{"cscript.exe", "powershell.exe", 35, "CScript spawning PowerShell"},
	{"mshta.exe", "powershell.exe", 40, "MSHTA spawning PowerShell"},
	{"mshta.exe", "cmd.exe", 35, "MSHTA spawning command prompt"},
	{"acrord32.exe", "cmd.exe", 35, "Acrobat Reader spawning command prompt"},
	{"acrord32.exe", "powershell.exe", 40, "Acrobat Reader spawning PowerShell"},
	{"services.exe", "cmd.exe", 30, "Services spawning command prompt"},
	{"services.exe", "powershell.exe", 35, "Services spawning PowerShell"},
	{"svchost.exe", "cmd.exe", 20, "Svchost spawning command prompt"},
	{"svchost.exe", "powershell.exe", 25, "Svchost spawning PowerShell"},
	{"wmiprvse.exe", "cmd.exe", 25, "WMI spawning command prompt"},
	{"wmiprvse.exe", "powershell.exe", 30, "WMI spawning PowerShell"},
	{"spoolsv.exe", "cmd.exe", 35, "Print Spooler spawning command prompt"},
	{"spoolsv.exe", "powershell.exe", 40, "Print Spooler spawning PowerShell"},
	{"rundll32.exe", "cmd.exe", 30, "Rundll32 spawning command prompt"},
	{"rundll32.exe", "powershell.exe", 35, "Rundll32 spawning PowerShell"},
	{"notepad.exe", "cmd.exe", 30, "Notepad spawning command prompt"},
	{"notepad.exe", "powershell.exe", 35, "Notepad spawning PowerShell"},
	{"calc.exe", "cmd.exe", 40, "Calculator spawning command prompt"},
	{"calc.exe", "powershell.exe", 45, "Calculator spawning PowerShell"},
}

// expectedParents pins well-known Windows processes to the only parents
// that legitimately start them. A match on any other parent is classic
// process masquerading.
var expectedParents = []struct {
	child   string
	parents []string
}{
	{"smss.exe", []string{"system"}},
	{"csrss.exe", []string{"smss.exe"}},
	{"wininit.exe", []string{"smss.exe"}},
	{"winlogon.exe", []string{"smss.exe"}},
	{"services.exe", []string{"wininit.exe"}},
	{"lsass.exe", []string{"wininit.exe"}},
	{"svchost.exe", []string{"services.exe"}},
	{"explorer.exe", []string{"userinit.exe", "winlogon.exe"}},
	{"userinit.exe", []string{"winlogon.exe"}},
	{"securityhealthservice.exe", []string{"services.exe"}},
	{"msmpeng.exe", []string{"services.exe"}},
	{"taskmgr.exe", []string{"explorer.exe"}},
}

// riskSeverity buckets a catalog risk score into a rule severity.
func riskSeverity(risk int) string {
	switch {
	case risk >= 45:
		return "critical"
	case risk >= 35:
		return "high"
	case risk >= 20:
		return "medium"
	default:
		return "low"
	}
}

// Builtin materializes the built-in rule catalog. The result is a fresh
// slice each call so callers may append user rules freely.
func Builtin() []Rule {
	var out []Rule

	for _, b := range lolbasBinaries {
		out = append(out, Rule{
			ID:          "lolbas:" + b.name,
			Name:        "LOLBAS binary " + b.name,
			Description: b.desc,
			Severity:    riskSeverity(b.risk),
			Conditions:  map[string]string{string(FieldProcessName): b.name},
			MatchType:   MatchLiteral,
			Tags:        []string{"lolbas", "execution"},
			Category:    CategoryLOLBAS,
		})
	}

	for _, p := range suspiciousPaths {
		out = append(out, Rule{
			ID:         "suspicious-path:" + p.slug,
			Name:       p.desc,
			Severity:   riskSeverity(p.risk),
			Conditions: map[string]string{string(FieldProcessPath): p.pattern},
			MatchType:  MatchRegex,
			Tags:       []string{"suspicious_path"},
			Category:   CategorySuspiciousPath,
		})
	}

	for _, f := range sensitiveFileAccess {
		out = append(out, Rule{
			ID:             "file-access:" + f.slug,
			Name:           f.desc,
			Severity:       riskSeverity(f.risk),
			Conditions:     map[string]string{string(FieldPathAccessed): f.pattern},
			MatchType:      MatchRegex,
			Tags:           []string{f.tag},
			MitreTechnique: f.mitre,
			Category:       CategoryFileAccess,
		})
	}

	out = append(out, Rule{
		ID:             "persistence:registry-run-key",
		Name:           "Registry run key modification",
		Severity:       "medium",
		Conditions:     map[string]string{string(FieldRegistryKey): `\\(run|runonce)(\\|$)`},
		MatchType:      MatchRegex,
		Tags:           []string{"persistence"},
		MitreTechnique: "T1547.001",
		Category:       CategoryPersistence,
	})

	for _, ep := range expectedParents {
		alts := make([]string, len(ep.parents))
		for i, p := range ep.parents {
			alts[i] = regexp.QuoteMeta(p)
		}
		out = append(out, Rule{
			ID:          "unexpected-parent:" + trimExe(ep.child),
			Name:        ep.child + " with unexpected parent",
			Description: "Expected parent: " + strings.Join(ep.parents, ", "),
			Severity:    riskSeverity(25),
			Conditions: map[string]string{
				string(FieldProcessName):    "^" + regexp.QuoteMeta(ep.child) + "$",
				string(FieldExpectedParent): "^(" + strings.Join(alts, "|") + ")$",
			},
			MatchType:      MatchRegex,
			Tags:           []string{"masquerading", "parent_child"},
			MitreTechnique: "T1036",
			Category:       CategoryParentChild,
		})
	}

	for _, s := range spawnPairs {
		out = append(out, Rule{
			ID:       fmt.Sprintf("parent-child:%s:%s", trimExe(s.parent), trimExe(s.child)),
			Name:     s.desc,
			Severity: riskSeverity(s.risk),
			Conditions: map[string]string{
				string(FieldParentProcess): s.parent,
				string(FieldChildProcess):  s.child,
			},
			MatchType:      MatchLiteral,
			Tags:           []string{"parent_child"},
			MitreTechnique: "T1059",
			Category:       CategoryParentChild,
		})
	}

	return out
}

func trimExe(name string) string {
	return strings.TrimSuffix(name, ".exe")
}
