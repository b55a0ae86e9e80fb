package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/LoganDawes/Smart-Registration-Services/internal/models"
	"github.com/LoganDawes/Smart-Registration-Services/internal/repository"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/config"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/database"
	"github.com/LoganDawes/Smart-Registration-Services/pkg/logger"
)

var (
	runMigrations bool
	seedPassword  string
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the registration database with sample data",
	Long:  `Insert a demo set of accounts, courses, prerequisites and sections. Existing rows are left untouched, so the command is safe to re-run.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logr, err := logger.New(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logr.Sync() //nolint:errcheck

		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer db.Close()

		if runMigrations {
			if err := database.RunMigrations(db, logr); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		ctx := cmd.Context()
		users := repository.NewUserRepository(db)
		courses := repository.NewCourseRepository(db)
		sections := repository.NewSectionRepository(db)

		userIDs, err := seedUsers(ctx, users)
		if err != nil {
			return err
		}
		courseIDs, err := seedCourses(ctx, courses)
		if err != nil {
			return err
		}
		if err := seedSections(ctx, sections, courseIDs, userIDs); err != nil {
			return err
		}

		logr.Sugar().Infow("seed complete",
			"users", len(userIDs),
			"courses", len(courseIDs),
		)
		return nil
	},
}

type seedUser struct {
	email      string
	fullName   string
	role       models.UserRole
	department string
	major      string
	year       int
	number     string
}

var sampleUsers = []seedUser{
	{email: "alice.nguyen@university.edu", fullName: "Alice Nguyen", role: models.RoleStudent, department: "Computer Science", major: "Computer Science", year: 2, number: "S1000001"},
	{email: "brian.okafor@university.edu", fullName: "Brian Okafor", role: models.RoleStudent, department: "Mathematics", major: "Applied Mathematics", year: 3, number: "S1000002"},
	{email: "carla.reyes@university.edu", fullName: "Carla Reyes", role: models.RoleAdvisor, department: "Computer Science", number: "A2000001"},
	{email: "dmitri.volkov@university.edu", fullName: "Dmitri Volkov", role: models.RoleAdvisor, department: "Mathematics", number: "A2000002"},
	{email: "registrar@university.edu", fullName: "Office of the Registrar", role: models.RoleRegistrar, department: "Registrar"},
}

func seedUsers(ctx context.Context, repo *repository.UserRepository) (map[string]string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}

	ids := make(map[string]string, len(sampleUsers))
	for _, su := range sampleUsers {
		existing, err := repo.FindByEmail(ctx, su.email)
		if err == nil {
			ids[su.email] = existing.ID
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("look up %s: %w", su.email, err)
		}

		user := models.User{
			Email:        su.email,
			PasswordHash: string(hash),
			FullName:     su.fullName,
			Role:         su.role,
			Department:   su.department,
			Major:        su.major,
			Active:       true,
		}
		switch su.role {
		case models.RoleStudent:
			number := su.number
			year := su.year
			user.StudentNumber = &number
			user.YearOfStudy = &year
		case models.RoleAdvisor:
			number := su.number
			user.AdvisorNumber = &number
		}
		if err := repo.Create(ctx, &user); err != nil {
			return nil, fmt.Errorf("create user %s: %w", su.email, err)
		}
		ids[su.email] = user.ID
	}
	return ids, nil
}

type seedCourse struct {
	code        string
	title       string
	description string
	credits     int
	department  string
	level       int
	prereqs     []string
}

var sampleCourses = []seedCourse{
	{code: "CS101", title: "Introduction to Programming", description: "Fundamentals of programming with an emphasis on problem solving.", credits: 3, department: "Computer Science", level: 100},
	{code: "CS201", title: "Data Structures", description: "Lists, trees, hash tables and the analysis of their operations.", credits: 4, department: "Computer Science", level: 200, prereqs: []string{"CS101"}},
	{code: "CS301", title: "Algorithms", description: "Design and analysis of algorithms.", credits: 4, department: "Computer Science", level: 300, prereqs: []string{"CS201", "MATH201"}},
	{code: "MATH101", title: "Calculus I", description: "Limits, derivatives and integrals of single-variable functions.", credits: 4, department: "Mathematics", level: 100},
	{code: "MATH201", title: "Discrete Mathematics", description: "Logic, sets, combinatorics and graph theory.", credits: 3, department: "Mathematics", level: 200, prereqs: []string{"MATH101"}},
	{code: "ENG110", title: "Academic Writing", description: "Expository writing and argumentation.", credits: 3, department: "English", level: 100},
}

func seedCourses(ctx context.Context, repo *repository.CourseRepository) (map[string]string, error) {
	ids := make(map[string]string, len(sampleCourses))
	for _, sc := range sampleCourses {
		existing, err := repo.FindByCode(ctx, sc.code)
		if err == nil {
			ids[sc.code] = existing.ID
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("look up %s: %w", sc.code, err)
		}

		course := models.Course{
			CourseCode:  sc.code,
			Title:       sc.title,
			Description: sc.description,
			Credits:     sc.credits,
			Department:  sc.department,
			Level:       sc.level,
		}
		if err := repo.Create(ctx, &course); err != nil {
			return nil, fmt.Errorf("create course %s: %w", sc.code, err)
		}
		ids[sc.code] = course.ID
	}

	// Prerequisites are linked after all courses exist so forward
	// references in the sample set resolve.
	for _, sc := range sampleCourses {
		for position, code := range sc.prereqs {
			if err := repo.AddPrerequisite(ctx, ids[sc.code], ids[code], position); err != nil {
				return nil, fmt.Errorf("link %s -> %s: %w", sc.code, code, err)
			}
		}
	}
	return ids, nil
}

type seedSection struct {
	course     string
	number     string
	days       string
	start      int
	end        int
	location   string
	maxSeats   int
	instructor string
}

// Meeting windows are minutes since midnight.
var sampleSections = []seedSection{
	{course: "CS101", number: "001", days: "MWF", start: 540, end: 590, location: "Hall 101", maxSeats: 60, instructor: "carla.reyes@university.edu"},
	{course: "CS101", number: "002", days: "TR", start: 780, end: 855, location: "Hall 102", maxSeats: 40, instructor: "carla.reyes@university.edu"},
	{course: "CS201", number: "001", days: "MWF", start: 600, end: 650, location: "Hall 201", maxSeats: 45, instructor: "carla.reyes@university.edu"},
	{course: "CS301", number: "001", days: "TR", start: 570, end: 645, location: "Hall 305", maxSeats: 30},
	{course: "MATH101", number: "001", days: "MTWF", start: 480, end: 530, location: "Science 12", maxSeats: 80, instructor: "dmitri.volkov@university.edu"},
	{course: "MATH201", number: "001", days: "WF", start: 660, end: 735, location: "Science 22", maxSeats: 50, instructor: "dmitri.volkov@university.edu"},
	{course: "ENG110", number: "001", days: "TR", start: 600, end: 675, location: "Arts 7", maxSeats: 25},
}

func seedSections(ctx context.Context, repo *repository.SectionRepository, courseIDs, userIDs map[string]string) error {
	for _, ss := range sampleSections {
		courseID, ok := courseIDs[ss.course]
		if !ok {
			return fmt.Errorf("section %s/%s references unknown course", ss.course, ss.number)
		}

		existing, _, err := repo.List(ctx, models.SectionFilter{CourseID: courseID, Term: "FALL", Year: 2026})
		if err != nil {
			return fmt.Errorf("list sections for %s: %w", ss.course, err)
		}
		found := false
		for _, sec := range existing {
			if sec.SectionNumber == ss.number {
				found = true
				break
			}
		}
		if found {
			continue
		}

		section := models.Section{
			CourseID:      courseID,
			SectionNumber: ss.number,
			Term:          "FALL",
			Year:          2026,
			Location:      ss.location,
			MeetingDays:   ss.days,
			StartMinutes:  ss.start,
			EndMinutes:    ss.end,
			MaxEnrollment: ss.maxSeats,
			IsAvailable:   true,
		}
		if ss.instructor != "" {
			if id, ok := userIDs[ss.instructor]; ok {
				section.InstructorID = &id
			}
		}
		if err := repo.Create(ctx, &section); err != nil {
			return fmt.Errorf("create section %s/%s: %w", ss.course, ss.number, err)
		}
	}
	return nil
}

func main() {
	rootCmd.Flags().BoolVar(&runMigrations, "migrate", false, "run pending migrations before seeding")
	rootCmd.Flags().StringVar(&seedPassword, "password", "ChangeMe123!", "password assigned to every seeded account")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
