package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/planner/core/auth"
	"github.com/trezcool/planner/core/planner"
	emailsvc "github.com/trezcool/planner/services/email"
	exportsvc "github.com/trezcool/planner/services/export"
	inmemkv "github.com/trezcool/planner/storage/inmem"
	testutil "github.com/trezcool/planner/tests/testutil"
)

func setup(t *testing.T) *commandLine {
	t.Helper()

	conf := testutil.NewConfig()
	logger := testutil.NewLogger(new(bytes.Buffer))
	validate, translator := testutil.NewValidator()
	testutil.ParseEmailTemplates(logger)

	kv := inmemkv.Open()
	store := planner.NewStore(kv, validate, logger)
	require.NoError(t, store.Hydrate(context.Background()))
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	return &commandLine{
		conf:       conf,
		store:      store,
		authSvc:    auth.NewService(conf, kv, mailSvc, logger),
		mailSvc:    mailSvc,
		validate:   validate,
		translator: translator,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string // substring of the output
	extra      interface{}
}

func runCLITests(t *testing.T, cli *commandLine, tests []cliTest, before func(tt cliTest)) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if before != nil {
				before(tt)
			}
			var out bytes.Buffer
			err := cli.run(args, &out)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantErrStr)
				}
			default:
				assert.NoError(t, err)
			}
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
	}
	runCLITests(t, cli, tests, nil)
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	t.Run("without database", func(t *testing.T) {
		err := cli.run([]string{"admin", "migrate", "up"}, new(bytes.Buffer))
		assert.ErrorIs(t, err, errNoDatabase)
	})

	cli.db = new(sqlx.DB)
	var gotCommand string
	var gotArgs []string
	gooseRunFunc = func(command string, db *sqlx.DB, dir string, args ...string) error {
		gotCommand, gotArgs = command, args
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "up", args: []string{"migrate", "up"}, extra: []string{"up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}, extra: []string{"up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}, extra: []string{"down"}},
		{name: "status", args: []string{"migrate", "status"}, extra: []string{"status"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			gotCommand, gotArgs = "", nil
			err := cli.run(args, new(bytes.Buffer))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			want := tt.extra.([]string)
			assert.Equal(t, want[0], gotCommand)
			assert.Equal(t, want[1:], gotArgs)
		})
	}
}

func Test_commandLine_hashCredential(t *testing.T) {
	cli := setup(t)

	type extra struct {
		inputs []string
	}
	tests := []cliTest{
		{name: "no credential", args: []string{"hashcredential"}, wantErr: errHelp},
		{
			name:       "confirmation mismatch",
			args:       []string{"hashcredential"},
			extra:      extra{inputs: []string{"Ch@lkb0ard-42", "Ch@lkb0ard-43"}},
			wantErrStr: "credential_confirm",
		},
		{
			name:       "too short",
			args:       []string{"hashcredential"},
			extra:      extra{inputs: []string{"Ab1!", "Ab1!"}},
			wantErrStr: "credential must contain at least 10 characters",
		},
		{
			name:       "similar to email",
			args:       []string{"hashcredential", "--email", "Zebra.Crossing1@school.test"},
			extra:      extra{inputs: []string{"Zebra.Crossing1!", "Zebra.Crossing1!"}},
			wantErrStr: "credential cannot be similar to the email address",
		},
		{
			name:    "valid",
			args:    []string{"hashcredential"},
			extra:   extra{inputs: []string{"Ch@lkb0ard-42", "Ch@lkb0ard-42"}},
			wantOut: "$2a$",
		},
	}
	runCLITests(t, cli, tests, func(tt cliTest) {
		var inputs []string
		if e, ok := tt.extra.(extra); ok {
			inputs = e.inputs
		}
		readPasswordFunc = func(fd int) ([]byte, error) {
			if len(inputs) == 0 {
				return nil, nil
			}
			in := inputs[0]
			inputs = inputs[1:]
			return []byte(in), nil
		}
	})

	t.Run("hash matches the credential", func(t *testing.T) {
		inputs := []string{testutil.Credential, testutil.Credential}
		readPasswordFunc = func(fd int) ([]byte, error) {
			in := inputs[0]
			inputs = inputs[1:]
			return []byte(in), nil
		}
		var out bytes.Buffer
		require.NoError(t, cli.run([]string{"admin", "hashcredential"}, &out))

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		hash := lines[len(lines)-1]
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(testutil.Credential)))
	})
}

func Test_commandLine_signInLink(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "authorized email", args: []string{"signinlink"}, wantOut: "http://planner.test/finish-sign-in?email=teacher%40school.test&token="},
		{name: "explicit email", args: []string{"signinlink", "--email", " Teacher@School.test "}, wantOut: "valid for 30m0s"},
		{name: "unauthorized email", args: []string{"signinlink", "--email", "intruder@school.test"}, wantErr: auth.ErrUnauthorizedEmail},
		{name: "send: unauthorized email", args: []string{"signinlink", "--send", "--email", "intruder@school.test"}, wantErr: auth.ErrUnauthorizedEmail},
		{name: "send", args: []string{"signinlink", "--send"}, wantOut: "sign-in link sent to teacher@school.test"},
	}
	runCLITests(t, cli, tests, nil)

	sent := cli.mailSvc.(*emailsvc.ConsoleServiceMock).SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, testutil.AuthorizedEmail, sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "http://planner.test/finish-sign-in?email=teacher%40school.test&token=")

	// the mailed link signs in against the shared storage
	data := sent[0].TemplateData.(auth.SignInLinkData)
	p, err := cli.authSvc.CompleteSignInFromLink(context.Background(), "", data.Link)
	require.NoError(t, err)
	assert.Equal(t, auth.MethodEmailLink, p.Method)
}

func Test_commandLine_exportMail(t *testing.T) {
	cli := setup(t)
	class, err := cli.store.AddClass(context.Background(), planner.NewClass{Name: "Math P1", Grade: "7", Schedule: "even"})
	require.NoError(t, err)

	tests := []cliTest{
		{name: "bad recipient", args: []string{"export", "--class", class.ID, "--mail", "--to", "nope"}, wantErrStr: `parsing recipient "nope"`},
		{name: "authorized email", args: []string{"export", "--class", class.ID, "--mail"}, wantOut: `mailed "Math P1" to teacher@school.test`},
		{name: "explicit recipient", args: []string{"export", "--class", class.ID, "--mail", "--to", "Office <office@school.test>"}, wantOut: "to office@school.test"},
	}
	runCLITests(t, cli, tests, nil)

	sent := cli.mailSvc.(*emailsvc.ConsoleServiceMock).SentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, testutil.AuthorizedEmail, sent[0].To[0].Address)
	assert.Equal(t, "office@school.test", sent[1].To[0].Address)
	for _, msg := range sent {
		assert.Equal(t, "Attendance of Math P1", msg.Subject)
		assert.Contains(t, msg.TextContent, "The attendance export of Math P1")
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "attendance_Math_P1.xlsx", msg.Attachments[0].Filename)
		assert.Equal(t, exportsvc.XLSXContentType, msg.Attachments[0].ContentType)
	}
}

func Test_commandLine_classes(t *testing.T) {
	cli := setup(t)
	runCLITests(t, cli, []cliTest{{name: "no classes", args: []string{"classes"}, wantOut: "no classes"}}, nil)

	class, err := cli.store.AddClass(context.Background(), planner.NewClass{Name: "Math P1", Grade: "7", Schedule: "even"})
	require.NoError(t, err)
	runCLITests(t, cli, []cliTest{{name: "listed", args: []string{"classes"}, wantOut: class.ID}}, nil)
}

func Test_commandLine_exportImport(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	dir := t.TempDir()

	class, err := cli.store.AddClass(ctx, planner.NewClass{Name: "Science", Grade: "8", Schedule: "odd"})
	require.NoError(t, err)

	// roster: header + 2 students + a blank row
	roster := excelize.NewFile()
	sheet := roster.GetSheetName(0)
	for cell, v := range map[string]string{"A1": "Student", "A2": " Alice ", "A3": "Bob", "A5": "Chloe"} {
		require.NoError(t, roster.SetCellValue(sheet, cell, v))
	}
	rosterPath := filepath.Join(dir, "roster.xlsx")
	require.NoError(t, roster.SaveAs(rosterPath))
	exportPath := filepath.Join(dir, "out.xlsx")

	tests := []cliTest{
		{name: "import: no flags", args: []string{"import"}, wantErrStr: `required flag(s) "class", "file" not set`},
		{name: "import: unknown class", args: []string{"import", "--class", "nope", "--file", rosterPath}, wantErr: planner.ErrClassNotFound},
		{name: "import: missing file", args: []string{"import", "--class", class.ID, "--file", filepath.Join(dir, "nope.xlsx")}, wantErrStr: "opening roster"},
		{name: "import", args: []string{"import", "--class", class.ID, "--file", rosterPath}, wantOut: "imported 3 students"},
		{name: "export: no class", args: []string{"export"}, wantErrStr: `required flag(s) "class" not set`},
		{name: "export: unknown class", args: []string{"export", "--class", "nope"}, wantErr: planner.ErrClassNotFound},
		{name: "export", args: []string{"export", "--class", class.ID, "--out", exportPath}, wantOut: exportPath},
	}
	runCLITests(t, cli, tests, nil)

	got, err := cli.store.Class(class.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(got.Students))
	for _, s := range got.Students {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Alice", "Bob", "Chloe"}, names)

	f, err := excelize.OpenFile(exportPath)
	require.NoError(t, err)
	defer f.Close()
	cell, err := f.GetCellValue(exportsvc.AttendanceSheet, "A4")
	require.NoError(t, err)
	assert.Equal(t, "Chloe", cell)
}
