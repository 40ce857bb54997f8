package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/captainmuzzol/billSherlock/internal/domain/analysis"
	billsvc "github.com/captainmuzzol/billSherlock/internal/domain/bill/service"
	"github.com/captainmuzzol/billSherlock/internal/domain/bill/repository"
	"github.com/captainmuzzol/billSherlock/internal/domain/report"
	"github.com/captainmuzzol/billSherlock/internal/domain/suspect"
	"github.com/captainmuzzol/billSherlock/internal/export"
	"github.com/captainmuzzol/billSherlock/internal/jobs"
)

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (s *Server) suspectFromParam(c *gin.Context) (*suspect.Suspect, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		abortError(c, http.StatusBadRequest, errors.New("无效的嫌疑人编号"))
		return nil, false
	}
	sp, err := s.suspects.Get(uint(id))
	if err != nil {
		if errors.Is(err, suspect.ErrNotFound) {
			abortError(c, http.StatusNotFound, err)
		} else {
			abortError(c, http.StatusInternalServerError, err)
		}
		return nil, false
	}
	return sp, true
}

type createSuspectRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) createSuspect(c *gin.Context) {
	var req createSuspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, errors.New("请求参数不完整"))
		return
	}
	sp, err := s.suspects.Create(req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, suspect.ErrNameTaken), errors.Is(err, suspect.ErrWeakPassword):
			abortError(c, http.StatusBadRequest, err)
		default:
			abortError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, sp)
}

func (s *Server) listSuspects(c *gin.Context) {
	search := c.Query("search")
	var (
		rows []suspect.Summary
		err  error
	)
	if search != "" {
		rows, err = s.suspects.Search(search)
	} else {
		rows, err = s.suspects.List()
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type verifyRequest struct {
	SuspectID uint   `json:"suspect_id" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

func (s *Server) verifySuspect(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, errors.New("请求参数不完整"))
		return
	}
	if err := s.suspects.Verify(req.SuspectID, req.Password); err != nil {
		switch {
		case errors.Is(err, suspect.ErrNotFound):
			abortError(c, http.StatusNotFound, err)
		case errors.Is(err, suspect.ErrBadPassword):
			abortError(c, http.StatusUnauthorized, err)
		default:
			abortError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "验证通过"})
}

func (s *Server) deleteSuspect(c *gin.Context) {
	sp, ok := s.suspectFromParam(c)
	if !ok {
		return
	}
	if err := s.suspects.Delete(sp.ID); err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "嫌疑人已删除"})
}

func (s *Server) suspectFiles(c *gin.Context) {
	sp, ok := s.suspectFromParam(c)
	if !ok {
		return
	}
	files, err := s.repo.Files(sp.ID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

func (s *Server) deleteSuspectFile(c *gin.Context) {
	sp, ok := s.suspectFromParam(c)
	if !ok {
		return
	}
	filename := c.Query("filename")
	if filename == "" {
		abortError(c, http.StatusBadRequest, errors.New("缺少 filename 参数"))
		return
	}
	n, err := s.repo.DeleteFile(sp.ID, filename)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("已删除 %s 的 %d 条记录", filename, n)})
}

// upload accepts bill exports and returns a job id immediately; clients
// poll /jobs/:id for progress.
func (s *Server) upload(c *gin.Context) {
	suspectID, err := strconv.ParseUint(c.PostForm("suspect_id"), 10, 32)
	if err != nil {
		abortError(c, http.StatusBadRequest, errors.New("缺少 suspect_id 参数"))
		return
	}
	sp, err := s.suspects.Get(uint(suspectID))
	if err != nil {
		abortError(c, http.StatusNotFound, suspect.ErrNotFound)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		abortError(c, http.StatusBadRequest, errors.New("上传内容无效"))
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		abortError(c, http.StatusBadRequest, billsvc.ErrNoFiles)
		return
	}

	jobID := s.bills.NewJobID()
	stagedDir, err := s.bills.StageDir(jobID)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	staged := make([]billsvc.StagedFile, 0, len(fileHeaders))
	for i, fh := range fileHeaders {
		dst := filepath.Join(stagedDir, fmt.Sprintf("%04d_%s", i, filepath.Base(fh.Filename)))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			os.RemoveAll(stagedDir)
			abortError(c, http.StatusInternalServerError, fmt.Errorf("保存上传文件失败: %w", err))
			return
		}
		staged = append(staged, billsvc.StagedFile{Path: dst, Name: fh.Filename})
	}

	job, err := s.bills.Enqueue(sp, jobID, stagedDir, staged)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) jobStatus(c *gin.Context) {
	job, err := s.bills.Job(c.Param("id"))
	if err != nil {
		abortError(c, http.StatusNotFound, jobs.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, job)
}

func parseFloatQuery(c *gin.Context, key string) *float64 {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func filterFromQuery(c *gin.Context) (repository.Filter, error) {
	var f repository.Filter
	f.Category = c.Query("category")
	f.TransactionType = c.Query("transaction_type")
	f.Method = c.Query("method")
	f.Keyword = c.Query("keyword")
	f.SourceFile = c.Query("source_file")
	f.MinAmount = parseFloatQuery(c, "min_amount")
	f.MaxAmount = parseFloatQuery(c, "max_amount")
	f.SpecificAmount = parseFloatQuery(c, "specific_amount")
	f.TimeOfDay = c.Query("time_range")

	// Multiple counterparties separated by Chinese or ASCII comma,
	// matched exactly.
	if cp := c.Query("counterparty"); cp != "" {
		for _, part := range strings.Split(strings.ReplaceAll(cp, "，", ","), ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Counterparties = append(f.Counterparties, part)
			}
		}
	}

	if raw := c.Query("start_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return f, errors.New("开始日期格式错误，应为 YYYY-MM-DD")
		}
		f.StartTime = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return f, errors.New("结束日期格式错误，应为 YYYY-MM-DD")
		}
		end := t.AddDate(0, 0, 1).Add(-time.Second)
		f.EndTime = &end
	}
	return f, nil
}

func suspectIDQuery(c *gin.Context) uint {
	id, err := strconv.ParseUint(c.Query("suspect_id"), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

func (s *Server) transactions(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	suspectID := suspectIDQuery(c)

	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, total, err := s.repo.List(suspectID, f, skip, limit)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	totalAmount, err := s.repo.SumAmount(suspectID, f)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "total_amount": totalAmount, "data": rows})
}

func (s *Server) exportTransactions(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	rows, err := s.repo.ListAll(suspectIDQuery(c), f)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	filename := "transactions_" + time.Now().Format("20060102_150405") + ".csv"
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := export.WriteCSV(c.Writer, rows); err != nil {
		s.logger.Warn("csv export failed", slog.String("error", err.Error()))
	}
}

func (s *Server) statsSummary(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	sum, err := s.repo.Summarize(suspectIDQuery(c), f)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_income":  sum.TotalIncome,
		"total_expense": sum.TotalExpense,
	})
}

func (s *Server) statsByCounterparty(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	rows, err := s.repo.TopCounterpartiesByAmount(suspectIDQuery(c), f, limit)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{"name": r.Counterparty, "value": r.TotalAmount})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) statsByDate(c *gin.Context) {
	f, err := filterFromQuery(c)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	rows, err := s.repo.ByDate(suspectIDQuery(c), f)
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}

	dates := make([]string, 0, len(rows))
	income := make([]float64, 0, len(rows))
	expense := make([]float64, 0, len(rows))
	for _, r := range rows {
		dates = append(dates, r.Day)
		income = append(income, r.Income)
		expense = append(expense, r.Expense)
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates, "income": income, "expense": expense})
}

func (s *Server) aiAnalysis(c *gin.Context) {
	suspectID := suspectIDQuery(c)
	if suspectID == 0 {
		abortError(c, http.StatusBadRequest, errors.New("缺少 suspect_id 参数"))
		return
	}
	sp, err := s.suspects.Get(suspectID)
	if err != nil {
		abortError(c, http.StatusNotFound, suspect.ErrNotFound)
		return
	}

	answer, err := s.analyses.Analyze(c.Request.Context(), sp, c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		if errors.Is(err, analysis.ErrBusy) {
			abortError(c, http.StatusServiceUnavailable, err)
			return
		}
		// Surface connection problems as the analysis text, matching
		// what the UI expects to render.
		c.JSON(http.StatusOK, gin.H{"analysis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": answer})
}

// uploadReport installs an HTML report archive for a suspect.
func (s *Server) uploadReport(c *gin.Context) {
	sp, ok := s.suspectFromParam(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		abortError(c, http.StatusBadRequest, errors.New("缺少报告压缩包"))
		return
	}
	if !report.Accepts(fh.Filename) {
		abortError(c, http.StatusBadRequest, report.ErrUnsupportedArchive)
		return
	}

	tmp, err := os.CreateTemp("", "report-upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		abortError(c, http.StatusInternalServerError, err)
		return
	}
	tmpPath := tmp.Name()
	src, err := fh.Open()
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		abortError(c, http.StatusBadRequest, errors.New("上传内容无效"))
		return
	}
	_, copyErr := io.Copy(tmp, src)
	src.Close()
	tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		abortError(c, http.StatusInternalServerError, fmt.Errorf("保存上传文件失败: %w", copyErr))
		return
	}

	job, err := s.reports.Enqueue(sp, tmpPath, fh.Filename)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status})
}

// serveReport serves files from a suspect's current report tree. The
// empty path serves the main page.
func (s *Server) serveReport(c *gin.Context) {
	sp, ok := s.suspectFromParam(c)
	if !ok {
		return
	}
	root, main, err := s.reports.Resolve(sp)
	if err != nil {
		abortError(c, http.StatusNotFound, errors.New("该嫌疑人暂无分析报告"))
		return
	}

	rel := strings.TrimPrefix(c.Param("path"), "/")
	if rel == "" {
		rel = main
	}

	target := filepath.Join(root, filepath.FromSlash(rel))
	base := filepath.Clean(root)
	if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
		abortError(c, http.StatusBadRequest, errors.New("非法的报告路径"))
		return
	}
	c.File(target)
}
